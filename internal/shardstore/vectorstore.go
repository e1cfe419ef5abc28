// Package shardstore implements the storage-node side of the wire
// protocol that internal/shardclient speaks: the in-memory vector
// collections, primary/replica separation, and HTTP handlers a shard
// process exposes. The on-disk engine and the ANN index itself are
// out of scope (see the project's Non-goals) — this package only needs to behave like a faithful
// collaborator for exercising the coordination layer.
package shardstore

import (
	"sort"
	"sync"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
)

// VectorStore holds one id-keyed set of vector records: a map guarded
// by an RWMutex for point lookups. The map is unordered; ScanRange
// sorts the matching ids on each call.
type VectorStore struct {
	mu   sync.RWMutex
	data map[int64]model.VectorRecord
}

// NewVectorStore returns an empty store.
func NewVectorStore() *VectorStore {
	return &VectorStore{data: make(map[int64]model.VectorRecord)}
}

// Put upserts rec by its ID.
func (s *VectorStore) Put(rec model.VectorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.ID] = rec
}

// Get returns a copy of the record for id.
func (s *VectorStore) Get(id int64) (model.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	if !ok {
		return model.VectorRecord{}, vderr.New("shardstore.VectorStore.Get", vderr.NotFound)
	}
	return rec, nil
}

// Delete removes id, reporting vderr.NotFound if it wasn't present so
// callers can distinguish an actual delete from a no-op.
func (s *VectorStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return vderr.New("shardstore.VectorStore.Delete", vderr.NotFound)
	}
	delete(s.data, id)
	return nil
}

// ScanRange returns up to limit records with id in (fromExclusive,
// toInclusive], ordered by ascending id. Mirrors shardclient.ScanRange's
// contract: an empty result means the walk has reached toInclusive.
func (s *VectorStore) ScanRange(fromExclusive, toInclusive int64, limit int) []model.VectorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.VectorRecord, 0, limit)
	for id, rec := range s.data {
		if id > fromExclusive && id <= toInclusive {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// All returns every record, in no particular order. Used by brute-force
// search.
func (s *VectorStore) All() []model.VectorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.VectorRecord, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec)
	}
	return out
}

// Count returns the number of stored records.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
