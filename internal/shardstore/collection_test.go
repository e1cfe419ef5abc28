package shardstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
)

func newTestCollection(t *testing.T, dimension int) *Collection {
	t.Helper()
	node := NewNode("s1")
	require.NoError(t, node.CreateDatabase("db1", "Primary", dimension))
	coll, err := node.Collection("db1")
	require.NoError(t, err)
	return coll
}

func TestDeleteVectorReportsNotFoundOnAbsentID(t *testing.T) {
	coll := newTestCollection(t, 3)

	err := coll.DeleteVector(100)
	require.Error(t, err)
	assert.Equal(t, vderr.NotFound, vderr.KindOf(err))

	require.NoError(t, coll.AddVector(model.VectorRecord{ID: 100, DatabaseID: "db1", Embedding: []float32{1, 2, 3}}))
	assert.NoError(t, coll.DeleteVector(100))

	err = coll.DeleteVector(100)
	require.Error(t, err)
	assert.Equal(t, vderr.NotFound, vderr.KindOf(err), "deleting an already-deleted id must not silently succeed")
}

func TestDeleteReplicaReportsNotFoundOnAbsentID(t *testing.T) {
	coll := newTestCollection(t, 3)

	err := coll.DeleteReplica(100, "s0")
	require.Error(t, err)
	assert.Equal(t, vderr.NotFound, vderr.KindOf(err))

	coll.AddReplica(model.VectorRecord{ID: 100, DatabaseID: "db1", Embedding: []float32{1, 2, 3}}, "s0")
	assert.NoError(t, coll.DeleteReplica(100, "s0"))
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	coll := newTestCollection(t, 3)
	require.NoError(t, coll.AddVector(model.VectorRecord{ID: 1, DatabaseID: "db1", Embedding: []float32{1, 2, 3}}))

	_, err := coll.Search([]float32{1, 2}, 10)
	require.Error(t, err)
	assert.Equal(t, vderr.DimensionMismatch, vderr.KindOf(err))

	results, err := coll.Search([]float32{1, 2, 3}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchReplicasRejectsDimensionMismatch(t *testing.T) {
	coll := newTestCollection(t, 3)
	coll.AddReplica(model.VectorRecord{ID: 1, DatabaseID: "db1", Embedding: []float32{1, 2, 3}}, "s0")

	_, err := coll.SearchReplicas([]float32{1, 2, 3, 4}, 10, "s0")
	require.Error(t, err)
	assert.Equal(t, vderr.DimensionMismatch, vderr.KindOf(err))

	results, err := coll.SearchReplicas([]float32{1, 2, 3}, 10, "s0")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
