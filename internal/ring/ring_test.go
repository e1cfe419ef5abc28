package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
)

func desc(id string, key uint64) model.ShardDescriptor {
	return model.ShardDescriptor{ShardID: id, HashKey: key, Status: model.ShardStatusActive}
}

func TestLocateEmptyRingFails(t *testing.T) {
	r, dropped := New(nil)
	assert.Empty(t, dropped)
	_, err := r.Locate(42)
	require.Error(t, err)
	assert.Equal(t, vderr.EmptyRing, vderr.KindOf(err))
}

func TestLocateWrapsToFirstShard(t *testing.T) {
	r, _ := New([]model.ShardDescriptor{desc("s1", 0), desc("s2", 100)})

	got, err := r.Locate(200)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ShardID, "probe past the last key wraps to index 0")

	got, err = r.Locate(50)
	require.NoError(t, err)
	assert.Equal(t, "s2", got.ShardID)

	got, err = r.Locate(0)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ShardID)
}

func TestLocateSingleShardAlwaysMatches(t *testing.T) {
	r, _ := New([]model.ShardDescriptor{desc("only", 500)})
	for _, h := range []uint64{0, 499, 500, 501, ^uint64(0)} {
		got, err := r.Locate(h)
		require.NoError(t, err)
		assert.Equal(t, "only", got.ShardID)
	}
}

func TestNewDropsDuplicateHashKeyKeepingSmallerShardID(t *testing.T) {
	r, dropped := New([]model.ShardDescriptor{desc("zeta", 10), desc("alpha", 10)})
	require.Equal(t, 1, r.Len())
	assert.Equal(t, "alpha", r.Shards()[0].ShardID)
	require.Len(t, dropped, 1)
	assert.Equal(t, "zeta", dropped[0].ShardID)
}

func TestIndexOfAndAt(t *testing.T) {
	r, _ := New([]model.ShardDescriptor{desc("a", 0), desc("b", 10), desc("c", 20)})
	assert.Equal(t, 1, r.IndexOf("b"))
	assert.Equal(t, -1, r.IndexOf("missing"))

	assert.Equal(t, "a", r.At(0).ShardID)
	assert.Equal(t, "a", r.At(3).ShardID, "At wraps modulo ring length")
	assert.Equal(t, "c", r.At(-1).ShardID, "At wraps negative indices backward")
}

func TestLocateTiesBrokenByShardID(t *testing.T) {
	// Two shards on the same key: the smaller shard id keeps the slot,
	// so a probe landing on that key resolves to "a", not "b".
	r, _ := New([]model.ShardDescriptor{desc("b", 10), desc("a", 10)})
	got, err := r.Locate(10)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ShardID)
}
