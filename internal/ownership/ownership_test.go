package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/ring"
)

func buildRing(t *testing.T, ids ...string) ring.Ring {
	t.Helper()
	descs := make([]model.ShardDescriptor, len(ids))
	for i, id := range ids {
		descs[i] = model.ShardDescriptor{ShardID: id, HashKey: uint64(i * 10), Status: model.ShardStatusActive}
	}
	r, _ := ring.New(descs)
	return r
}

func TestReplicaLocationIsCircular(t *testing.T) {
	r := buildRing(t, "a", "b", "c")
	m := New(r)

	loc, ok := m.ReplicaLocation("a")
	require.True(t, ok)
	assert.Equal(t, "b", loc)

	loc, ok = m.ReplicaLocation("c")
	require.True(t, ok)
	assert.Equal(t, "a", loc, "replica location wraps from the last shard back to the first")
}

func TestReplicaSourcesIsCircular(t *testing.T) {
	r := buildRing(t, "a", "b", "c")
	m := New(r)

	src, ok := m.ReplicaSources("a")
	require.True(t, ok)
	assert.Equal(t, "c", src, "replica source wraps from the first shard back to the last")

	src, ok = m.ReplicaSources("b")
	require.True(t, ok)
	assert.Equal(t, "a", src)
}

func TestSingleShardReplicatesToItself(t *testing.T) {
	r := buildRing(t, "solo")
	m := New(r)

	loc, ok := m.ReplicaLocation("solo")
	require.True(t, ok)
	assert.Equal(t, "solo", loc)

	src, ok := m.ReplicaSources("solo")
	require.True(t, ok)
	assert.Equal(t, "solo", src)
}

func TestUnknownShardIsNotFound(t *testing.T) {
	m := New(buildRing(t, "a", "b"))
	_, ok := m.ReplicaLocation("ghost")
	assert.False(t, ok)
	_, ok = m.ReplicaSources("ghost")
	assert.False(t, ok)
}

func TestReplicaSourcesIncludesPrimaryForEveryShard(t *testing.T) {
	// For every ring of size n>=2 and every shard s,
	// replica_sources(replica_location(s)) contains s.
	r := buildRing(t, "a", "b", "c", "d")
	m := New(r)
	for _, s := range r.Shards() {
		loc, ok := m.ReplicaLocation(s.ShardID)
		require.True(t, ok)
		src, ok := m.ReplicaSources(loc)
		require.True(t, ok)
		assert.Equal(t, s.ShardID, src)
	}
}
