package shardstore

import (
	"math"
	"sort"
	"sync"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
	"github.com/dreamware/vectorshard/internal/wire"
)

// Collection is one database's data on this shard: the primary
// VectorStore this shard owns, plus one replica VectorStore per
// upstream shard it backs up for (tagged by source shard id so a
// replica copy never collides with a primary-owned id at the same
// shard). A shard backs up its ring predecessor only, but may
// simultaneously BE someone's replica target while holding its own
// primary data, so primary and replica state are kept apart rather
// than toggled by a boolean.
type Collection struct {
	Descriptor model.DatabaseDescriptor

	primary *VectorStore

	mu       sync.RWMutex
	replicas map[string]*VectorStore // sourceShardID -> replica copies
}

func newCollection(desc model.DatabaseDescriptor) *Collection {
	return &Collection{
		Descriptor: desc,
		primary:    NewVectorStore(),
		replicas:   make(map[string]*VectorStore),
	}
}

func (c *Collection) replicaStore(sourceShardID string) *VectorStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.replicas[sourceShardID]
	if !ok {
		rs = NewVectorStore()
		c.replicas[sourceShardID] = rs
	}
	return rs
}

// AddVector validates the record's dimension and upserts it.
func (c *Collection) AddVector(rec model.VectorRecord) error {
	if c.Descriptor.Dimension > 0 && len(rec.Embedding) != c.Descriptor.Dimension {
		return vderr.New("shardstore.Collection.AddVector", vderr.DimensionMismatch)
	}
	c.primary.Put(rec)
	return nil
}

// GetVector returns the primary-owned copy of id.
func (c *Collection) GetVector(id int64) (model.VectorRecord, error) {
	return c.primary.Get(id)
}

// DeleteVector removes the primary-owned copy of id, reporting
// vderr.NotFound if it wasn't present.
func (c *Collection) DeleteVector(id int64) error {
	return c.primary.Delete(id)
}

// ScanRange walks the primary store.
func (c *Collection) ScanRange(fromExclusive, toInclusive int64, limit int) []model.VectorRecord {
	return c.primary.ScanRange(fromExclusive, toInclusive, limit)
}

// PutBatch upserts every record into the primary store, skipping
// dimension validation: batches arrive during resharding migrations,
// which only ever move records that were already valid on their
// source shard.
func (c *Collection) PutBatch(recs []model.VectorRecord) {
	for _, rec := range recs {
		c.primary.Put(rec)
	}
}

// DeleteBatch removes every id from the primary store. Ids already
// absent (e.g. a retried batch) are not an error here: resharding's
// delete_batch is best-effort cleanup after a put_batch, not a
// caller-visible delete.
func (c *Collection) DeleteBatch(ids []int64) {
	for _, id := range ids {
		_ = c.primary.Delete(id)
	}
}

// AddReplica stores rec as a replica copy tagged sourceShardID.
func (c *Collection) AddReplica(rec model.VectorRecord, sourceShardID string) {
	c.replicaStore(sourceShardID).Put(rec)
}

// GetReplica returns the replica copy of id tagged sourceShardID.
func (c *Collection) GetReplica(id int64, sourceShardID string) (model.VectorRecord, error) {
	return c.replicaStore(sourceShardID).Get(id)
}

// DeleteReplica removes the replica copy of id tagged sourceShardID,
// reporting vderr.NotFound if it wasn't present.
func (c *Collection) DeleteReplica(id int64, sourceShardID string) error {
	return c.replicaStore(sourceShardID).Delete(id)
}

// Search runs a brute-force k-nearest-neighbor scan over the primary
// store using squared Euclidean distance. There is no ANN index here
// (out of scope); this exists only to give the coordinator's fan-out
// and merge logic something real to talk to. Rejects a probe whose
// length doesn't match the database's declared dimension rather than
// silently truncating, mirroring AddVector's own dimension check.
func (c *Collection) Search(probe []float32, k int) ([]wire.Result, error) {
	if c.Descriptor.Dimension > 0 && len(probe) != c.Descriptor.Dimension {
		return nil, vderr.New("shardstore.Collection.Search", vderr.DimensionMismatch)
	}
	return search(c.primary.All(), probe, k), nil
}

// SearchReplicas runs the same brute-force scan over the replica copies
// tagged sourceShardID, used when that shard's primary is unavailable.
func (c *Collection) SearchReplicas(probe []float32, k int, sourceShardID string) ([]wire.Result, error) {
	if c.Descriptor.Dimension > 0 && len(probe) != c.Descriptor.Dimension {
		return nil, vderr.New("shardstore.Collection.SearchReplicas", vderr.DimensionMismatch)
	}
	return search(c.replicaStore(sourceShardID).All(), probe, k), nil
}

func search(records []model.VectorRecord, probe []float32, k int) []wire.Result {
	out := make([]wire.Result, 0, len(records))
	for _, rec := range records {
		d := squaredDistance(probe, rec.Embedding)
		out = append(out, wire.Result{
			ID:           rec.ID,
			Distance:     d,
			Similarity:   1 / (1 + d),
			CreatedAtMS:  rec.CreatedAt.UnixMilli(),
			Embedding:    rec.Embedding,
			DatabaseID:   rec.DatabaseID,
			OriginalData: rec.OriginalData,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func squaredDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Abs(sum)
}
