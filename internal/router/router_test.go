package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/ownership"
	"github.com/dreamware/vectorshard/internal/ring"
	"github.com/dreamware/vectorshard/internal/vderr"
)

func snapshotFor(t *testing.T, descs ...model.ShardDescriptor) Snapshot {
	t.Helper()
	r, _ := ring.New(descs)
	return Snapshot{WriteRing: r, ReadRing: r, Owner: ownership.New(r)}
}

func TestHashIsDeterministic(t *testing.T) {
	assert.Equal(t, Hash(100), Hash(100))
	assert.NotEqual(t, Hash(100), Hash(101))
}

func TestRouteForWriteEmptyRingFails(t *testing.T) {
	snap := snapshotFor(t)
	_, err := RouteForWrite(snap, 100)
	require.Error(t, err)
	assert.Equal(t, vderr.EmptyRing, vderr.KindOf(err))
}

func TestRouteForWriteSingleShardIsNoopReplica(t *testing.T) {
	snap := snapshotFor(t, model.ShardDescriptor{ShardID: "solo", HashKey: 0, Status: model.ShardStatusActive})
	route, err := RouteForWrite(snap, 42)
	require.NoError(t, err)
	assert.Equal(t, "solo", route.Primary.ShardID)
	assert.Equal(t, "solo", route.Replica.ShardID)
	assert.True(t, route.ReplicaIsNoop)
}

func TestRouteForWriteTwoShardsReplicaIsTheOther(t *testing.T) {
	s1 := model.ShardDescriptor{ShardID: "s1", HashKey: 0, Status: model.ShardStatusActive}
	s2 := model.ShardDescriptor{ShardID: "s2", HashKey: 1 << 62, Status: model.ShardStatusActive}
	snap := snapshotFor(t, s1, s2)

	route, err := RouteForWrite(snap, 100)
	require.NoError(t, err)
	assert.False(t, route.ReplicaIsNoop)
	assert.NotEqual(t, route.Primary.ShardID, route.Replica.ShardID)

	// Invariant I3: primary is deterministic from hash(id) and the
	// current write ring alone.
	route2, err := RouteForWrite(snap, 100)
	require.NoError(t, err)
	assert.Equal(t, route.Primary.ShardID, route2.Primary.ShardID)
}

func TestReadableShardsReturnsRingOrder(t *testing.T) {
	s1 := model.ShardDescriptor{ShardID: "s1", HashKey: 10, Status: model.ShardStatusActive}
	s2 := model.ShardDescriptor{ShardID: "s2", HashKey: 0, Status: model.ShardStatusActive}
	snap := snapshotFor(t, s1, s2)
	shards := ReadableShards(snap)
	require.Len(t, shards, 2)
	assert.Equal(t, "s2", shards[0].ShardID)
	assert.Equal(t, "s1", shards[1].ShardID)
}
