package configuration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeID(b byte) NodeID {
	var id NodeID
	id[0] = b
	return id
}

func TestDeriveOrderIndependent(t *testing.T) {
	a := []NodeID{nodeID(3), nodeID(1), nodeID(2)}
	b := []NodeID{nodeID(1), nodeID(2), nodeID(3)}
	assert.Equal(t, Derive(a), Derive(b))
}

func TestDeriveDiffersOnMembershipChange(t *testing.T) {
	a := []NodeID{nodeID(1), nodeID(2)}
	b := []NodeID{nodeID(1), nodeID(2), nodeID(3)}
	assert.NotEqual(t, Derive(a), Derive(b))
}

func TestHistoryCompareEqual(t *testing.T) {
	seed := Derive([]NodeID{nodeID(1)})
	local := NewHistory(seed)
	remote := NewHistory(seed)
	assert.Equal(t, RelationEqual, local.Compare(remote))
}

func TestHistoryCompareFastForward(t *testing.T) {
	seed := Derive([]NodeID{nodeID(1)})
	v2 := Derive([]NodeID{nodeID(1), nodeID(2)})

	local := NewHistory(seed)
	remote := NewHistory(seed)
	remote.Append(v2, Operation{Added: []NodeID{nodeID(2)}})

	require.Equal(t, seed, local.Head())
	require.Equal(t, v2, remote.Head())

	assert.Equal(t, RelationFastForwardRight, local.Compare(remote))
	assert.Equal(t, RelationFastForwardLeft, remote.Compare(local))
}

func TestHistoryCompareFastForwardAcrossSeveralCommits(t *testing.T) {
	seed := Derive([]NodeID{nodeID(1)})
	v2 := Derive([]NodeID{nodeID(1), nodeID(2)})
	v3 := Derive([]NodeID{nodeID(1), nodeID(2), nodeID(3)})

	local := NewHistory(seed)
	remote := NewHistory(seed)
	remote.Append(v2, Operation{Added: []NodeID{nodeID(2)}})
	remote.Append(v3, Operation{Added: []NodeID{nodeID(3)}})

	// The common ancestor is two commits behind remote's head; the walk
	// must still classify this as a clean fast-forward, not a merge.
	assert.Equal(t, RelationFastForwardRight, local.Compare(remote))
	assert.Equal(t, RelationFastForwardLeft, remote.Compare(local))
}

func TestHistoryCompareNoCommonAncestor(t *testing.T) {
	seedA := Derive([]NodeID{nodeID(1)})
	seedB := Derive([]NodeID{nodeID(9)})
	local := NewHistory(seedA)
	remote := NewHistory(seedB)
	assert.Equal(t, RelationNoCommonAncestor, local.Compare(remote))
}

func TestHistoryCompareMerge(t *testing.T) {
	seed := Derive([]NodeID{nodeID(1)})
	v2Local := Derive([]NodeID{nodeID(1), nodeID(2)})
	v2Remote := Derive([]NodeID{nodeID(1), nodeID(3)})

	local := NewHistory(seed)
	local.Append(v2Local, Operation{Added: []NodeID{nodeID(2)}})

	remote := NewHistory(seed)
	remote.Append(v2Remote, Operation{Added: []NodeID{nodeID(3)}})

	assert.Equal(t, RelationMerge, local.Compare(remote))
}

func TestRelationKindString(t *testing.T) {
	assert.Equal(t, "EQUAL", RelationEqual.String())
	assert.Equal(t, "MERGE", RelationMerge.String())
}
