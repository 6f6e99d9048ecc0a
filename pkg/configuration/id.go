// Package configuration derives the 64-bit ConfigurationId from a member
// set and provides the append-only history log used to classify two
// remote configurations as EQUAL, FAST_FORWARD_*, NO_COMMON_ANCESTOR, or
// MERGE (spec.md §4.6).
package configuration

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// ID is a 64-bit digest over the sorted set of NodeIds in a configuration.
// Two nodes with the same member set always compute the same ID.
type ID int64

// NodeID is the opaque 128-bit stable identifier a member assigns itself.
type NodeID [16]byte

// Derive computes the ConfigurationId for a set of NodeIds. It is a pure
// function of the set: order of the input slice does not affect the
// result, matching invariant 2 in spec.md §8.
//
// The canonical byte form is built with protowire's low-level encoding
// primitives (length-delimited field per NodeId, field number 1) rather
// than a full generated protobuf message: this keeps the dependency real
// and exercised without requiring a protoc pipeline, while still giving a
// stable, self-describing wire form to hash. This mirrors the teacher's
// GenerateVersion(data []byte) pattern in pkg/config/loader.go, which also
// hashes a canonical byte encoding to mint a version string.
func Derive(nodeIDs []NodeID) ID {
	sorted := make([]NodeID, len(nodeIDs))
	copy(sorted, nodeIDs)
	sort.Slice(sorted, func(i, j int) bool {
		for b := 0; b < 16; b++ {
			if sorted[i][b] != sorted[j][b] {
				return sorted[i][b] < sorted[j][b]
			}
		}
		return false
	})

	var buf []byte
	const fieldNodeID = protowire.Number(1)
	for _, id := range sorted {
		buf = protowire.AppendTag(buf, fieldNodeID, protowire.BytesType)
		buf = protowire.AppendBytes(buf, id[:])
	}

	sum := sha256.Sum256(buf)
	return ID(int64(binary.BigEndian.Uint64(sum[:8])))
}

// RelationKind is the outcome of comparing two configuration histories.
type RelationKind int

const (
	RelationEqual RelationKind = iota
	RelationFastForwardLeft
	RelationFastForwardRight
	RelationNoCommonAncestor
	RelationMerge
)

func (r RelationKind) String() string {
	switch r {
	case RelationEqual:
		return "EQUAL"
	case RelationFastForwardLeft:
		return "FAST_FORWARD_LEFT"
	case RelationFastForwardRight:
		return "FAST_FORWARD_RIGHT"
	case RelationNoCommonAncestor:
		return "NO_COMMON_ANCESTOR"
	case RelationMerge:
		return "MERGE"
	default:
		return "UNKNOWN"
	}
}

// Operation records a single add/remove that produced a history entry's
// successor configuration.
type Operation struct {
	Added   []NodeID
	Removed []NodeID
}

// entry is one node in the append-only history log.
type entry struct {
	id  ID
	op  Operation
}

// History is an append-only log of configuration digests and the
// operations that produced each successor. It is not safe for concurrent
// use without external synchronization; MembershipService owns one under
// its service-wide mutex.
type History struct {
	entries []entry
}

// NewHistory returns a history seeded with the bootstrap configuration id.
func NewHistory(seed ID) *History {
	return &History{entries: []entry{{id: seed}}}
}

// Append records a new head produced by op.
func (h *History) Append(id ID, op Operation) {
	h.entries = append(h.entries, entry{id: id, op: op})
}

// Head returns the most recent configuration id.
func (h *History) Head() ID {
	return h.entries[len(h.entries)-1].id
}

// Contains reports whether id appears anywhere in the history.
func (h *History) Contains(id ID) bool {
	for _, e := range h.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

// Compare classifies local (the receiver) against remote: if the heads
// match, EQUAL. Otherwise walk remote's history from its append tail (most
// recent) back toward its oldest entry; the first id also present in local
// is the diverging commit. If no such id exists, NO_COMMON_ANCESTOR. If
// the diverging commit equals local's head, remote is strictly ahead:
// FAST_FORWARD_RIGHT. If it equals remote's head, local is strictly ahead:
// FAST_FORWARD_LEFT. Otherwise both sides have unique commits since the
// common ancestor: MERGE.
func (h *History) Compare(remote *History) RelationKind {
	localHead := h.Head()
	remoteHead := remote.Head()
	if localHead == remoteHead {
		return RelationEqual
	}

	var diverging ID
	found := false
	for i := len(remote.entries) - 1; i >= 0; i-- {
		if id := remote.entries[i].id; h.Contains(id) {
			diverging = id
			found = true
			break
		}
	}
	if !found {
		return RelationNoCommonAncestor
	}
	if diverging == localHead {
		return RelationFastForwardRight
	}
	if diverging == remoteHead {
		return RelationFastForwardLeft
	}
	return RelationMerge
}
