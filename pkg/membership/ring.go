package membership

import (
	"encoding/binary"
	"hash/fnv"
	"sort"

	"github.com/masallsome/rapidmember/pkg/wire"
)

// K is the fixed ring count for the lifetime of a configuration.
const K = 10

// ringSeeds is the compiled-in sequence of K distinct 64-bit constants used
// to derive each ring's ordering. Every node computes identical rings for
// identical member sets because the seeds are fixed at compile time, not
// negotiated at runtime.
var ringSeeds = [K]uint64{
	0x9e3779b97f4a7c15, 0xc2b2ae3d27d4eb4f, 0x165667b19e3779f9,
	0x27d4eb2f165667c5, 0xff51afd7ed558ccd, 0xc4ceb9fe1a85ec53,
	0x2545f4914f6cdd1d, 0xbf58476d1ce4e5b9, 0x94d049bb133111eb,
	0xd6e8feb86659fd93,
}

// ringHash combines a ring seed with an endpoint into the sort key for that
// ring. Using FNV-1a over the seed and the endpoint's string form keeps the
// function dependency-free and deterministic across processes.
func ringHash(seed uint64, e wire.Endpoint) uint64 {
	h := fnv.New64a()
	var seedBuf [8]byte
	binary.BigEndian.PutUint64(seedBuf[:], seed)
	h.Write(seedBuf[:])
	h.Write([]byte(e.String()))
	return h.Sum64()
}

// ring is one of the K independent total orderings over the current member
// set: a sorted array keyed by (hash(seed_r, endpoint), endpoint). It is
// rebuilt wholesale on membership change rather than maintained as a
// balanced-tree index, which spec.md §9 calls "trivially affordable" at the
// cluster sizes of interest.
type ring struct {
	order []wire.Endpoint
	index map[wire.Endpoint]int
}

func buildRing(seed uint64, members []wire.Endpoint) *ring {
	type keyed struct {
		key uint64
		ep  wire.Endpoint
	}
	keys := make([]keyed, len(members))
	for i, m := range members {
		keys[i] = keyed{key: ringHash(seed, m), ep: m}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].key != keys[j].key {
			return keys[i].key < keys[j].key
		}
		return keys[i].ep.String() < keys[j].ep.String()
	})

	order := make([]wire.Endpoint, len(keys))
	index := make(map[wire.Endpoint]int, len(keys))
	for i, k := range keys {
		order[i] = k.ep
		index[k.ep] = i
	}
	return &ring{order: order, index: index}
}

// successor returns the immediate successor of e on this ring, wrapping
// from the last element to the first.
func (r *ring) successor(e wire.Endpoint) (wire.Endpoint, bool) {
	i, ok := r.index[e]
	if !ok || len(r.order) == 0 {
		return wire.Endpoint{}, false
	}
	return r.order[(i+1)%len(r.order)], true
}

// predecessor returns the immediate predecessor of e on this ring.
func (r *ring) predecessor(e wire.Endpoint) (wire.Endpoint, bool) {
	i, ok := r.index[e]
	if !ok || len(r.order) == 0 {
		return wire.Endpoint{}, false
	}
	return r.order[(i-1+len(r.order))%len(r.order)], true
}

// buildRingWith returns the ring that would result from adding extra to
// members. Used by join admission to compute a prospective joiner's future
// observers without installing state.
func buildRingWith(seed uint64, members []wire.Endpoint, extra wire.Endpoint) *ring {
	all := make([]wire.Endpoint, 0, len(members)+1)
	all = append(all, members...)
	all = append(all, extra)
	return buildRing(seed, all)
}
