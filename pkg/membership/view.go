// Package membership holds the MembershipView, the K-ring observer/subject
// assignment, and the operations the rest of rapidmember uses to compute
// who monitors whom.
package membership

import (
	"fmt"
	"sort"

	rmerrors "github.com/masallsome/rapidmember/internal/errors"
	"github.com/masallsome/rapidmember/pkg/configuration"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// View holds the current set of members, their NodeIds, the set of every
// NodeId ever admitted (to reject replays), and the K rings over the
// member set. A View is not copied at a configuration boundary: the owning
// MembershipService applies each committed view change to its View in
// place through Add/Remove, under its lock, and hands out only snapshot
// slices of it.
type View struct {
	members  map[wire.Endpoint]configuration.NodeID
	order    []wire.Endpoint // stable iteration order, kept in insertion order
	everSeen map[configuration.NodeID]struct{}

	rings [K]*ring

	configID      configuration.ID
	configIDValid bool
}

// NewBootstrap creates the single-member view a node starts with in seed
// mode.
func NewBootstrap(self wire.Endpoint, selfID configuration.NodeID) *View {
	v := &View{
		members:  map[wire.Endpoint]configuration.NodeID{self: selfID},
		order:    []wire.Endpoint{self},
		everSeen: map[configuration.NodeID]struct{}{selfID: {}},
	}
	v.rebuildRings()
	return v
}

// newEmpty is used by the join path to build a view from a fully resolved
// host/id list returned by a SAFE_TO_JOIN response.
func newEmpty() *View {
	return &View{
		members:  make(map[wire.Endpoint]configuration.NodeID),
		order:    nil,
		everSeen: make(map[configuration.NodeID]struct{}),
	}
}

// NewFromLists reconstructs a view from parallel host/id lists, as received
// by a joiner in its admitting SAFE_TO_JOIN response.
func NewFromLists(hosts []wire.Endpoint, ids []configuration.NodeID) (*View, error) {
	if len(hosts) != len(ids) {
		return nil, fmt.Errorf("%w: host/id list length mismatch (%d vs %d)", rmerrors.ErrInvariantViolation, len(hosts), len(ids))
	}
	v := newEmpty()
	for i, h := range hosts {
		v.members[h] = ids[i]
		v.order = append(v.order, h)
		v.everSeen[ids[i]] = struct{}{}
	}
	v.rebuildRings()
	return v, nil
}

func (v *View) rebuildRings() {
	members := v.membersSorted()
	for r := 0; r < K; r++ {
		v.rings[r] = buildRing(ringSeeds[r], members)
	}
	v.configIDValid = false
}

// membersSorted returns a deterministic snapshot of the current endpoints.
// Sorting (rather than relying on map iteration or insertion order) keeps
// ring construction reproducible even if callers reconstruct a view from
// messages that list members in different orders.
func (v *View) membersSorted() []wire.Endpoint {
	out := make([]wire.Endpoint, 0, len(v.members))
	for e := range v.members {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Add inserts a new member. It rejects an endpoint already present, or a
// NodeId that was ever admitted before (even if since removed), matching
// spec.md §4.1's HOSTNAME_ALREADY_IN_RING / UUID_ALREADY_IN_RING checks.
func (v *View) Add(e wire.Endpoint, id configuration.NodeID) error {
	if _, ok := v.members[e]; ok {
		return rmerrors.ErrHostnameAlreadyInRing
	}
	if _, ok := v.everSeen[id]; ok {
		return rmerrors.ErrUUIDAlreadyInRing
	}
	v.members[e] = id
	v.order = append(v.order, e)
	v.everSeen[id] = struct{}{}
	v.rebuildRings()
	return nil
}

// Remove deletes an endpoint. It is a no-op if the endpoint is absent.
func (v *View) Remove(e wire.Endpoint) {
	if _, ok := v.members[e]; !ok {
		return
	}
	delete(v.members, e)
	for i, o := range v.order {
		if o == e {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	v.rebuildRings()
}

// Members returns a snapshot of current endpoints in stable sorted order.
func (v *View) Members() []wire.Endpoint {
	return v.membersSorted()
}

// Size returns the member count.
func (v *View) Size() int {
	return len(v.members)
}

// NodeIDOf returns the NodeId bound to an endpoint.
func (v *View) NodeIDOf(e wire.Endpoint) (configuration.NodeID, bool) {
	id, ok := v.members[e]
	return id, ok
}

// HasSeenNodeID reports whether id has ever been admitted, including if it
// was later removed.
func (v *View) HasSeenNodeID(id configuration.NodeID) bool {
	_, ok := v.everSeen[id]
	return ok
}

// ConfigurationID returns the memoized digest over the current NodeId set,
// recomputing it only after a mutation invalidates the cache.
func (v *View) ConfigurationID() configuration.ID {
	if !v.configIDValid {
		ids := make([]configuration.NodeID, 0, len(v.members))
		for _, id := range v.members {
			ids = append(ids, id)
		}
		v.configID = configuration.Derive(ids)
		v.configIDValid = true
	}
	return v.configID
}

// AllNodeIDs returns the current (not ever-seen) NodeId set.
func (v *View) AllNodeIDs() []configuration.NodeID {
	ids := make([]configuration.NodeID, 0, len(v.members))
	for _, id := range v.members {
		ids = append(ids, id)
	}
	return ids
}

// ObserversOf returns the K immediate ring predecessors of e: the members
// that monitor e. In a cluster of size <= K, slots collapse onto fewer
// distinct endpoints (including e itself in the degenerate single-member
// case) but all K ring slots are still returned, per spec.md §4.1's
// invariant 9.
func (v *View) ObserversOf(e wire.Endpoint) [K]wire.Endpoint {
	var out [K]wire.Endpoint
	for r := 0; r < K; r++ {
		if pred, ok := v.rings[r].predecessor(e); ok {
			out[r] = pred
		} else {
			out[r] = e
		}
	}
	return out
}

// SubjectsOf returns the K immediate ring successors of e: the members e
// monitors.
func (v *View) SubjectsOf(e wire.Endpoint) [K]wire.Endpoint {
	var out [K]wire.Endpoint
	for r := 0; r < K; r++ {
		if succ := v.ringSuccessor(e, r); succ != (wire.Endpoint{}) {
			out[r] = succ
		} else {
			out[r] = e
		}
	}
	return out
}

// ringSuccessor returns the successor of e on ring r, or the zero
// Endpoint if e is not currently a member.
func (v *View) ringSuccessor(e wire.Endpoint, ringNumber int) wire.Endpoint {
	succ, ok := v.rings[ringNumber].successor(e)
	if !ok {
		return wire.Endpoint{}
	}
	return succ
}

// RingSuccessor is the exported form of ringSuccessor.
func (v *View) RingSuccessor(e wire.Endpoint, ringNumber int) (wire.Endpoint, bool) {
	return v.rings[ringNumber].successor(e)
}

// DistinctObservers returns the set of distinct observer endpoints across
// all K rings: the per-ring predecessors with duplicates removed. It holds
// at most K entries; the rings are ordered independently, so two rings can
// share a predecessor and fewer than K can be returned even when |V| > K.
func (v *View) DistinctObservers(e wire.Endpoint) []wire.Endpoint {
	observers := v.ObserversOf(e)
	seen := make(map[wire.Endpoint]struct{}, K)
	out := make([]wire.Endpoint, 0, K)
	for _, o := range observers {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// ProspectiveObservers computes the K observers a joiner would have if it
// were added at endpoint `joiner`, without mutating the view. Used during
// join-phase1 admission (spec.md §4.4).
func (v *View) ProspectiveObservers(joiner wire.Endpoint) [K]wire.Endpoint {
	members := v.membersSorted()
	var out [K]wire.Endpoint
	for r := 0; r < K; r++ {
		hyp := buildRingWith(ringSeeds[r], members, joiner)
		if pred, ok := hyp.predecessor(joiner); ok {
			out[r] = pred
		} else {
			out[r] = joiner
		}
	}
	return out
}
