// Package ring implements the consistent-hash ring over shard
// descriptors. It is a pure function of its input: no I/O, no mutable
// state, no virtual nodes — the system relies on a handful of shards
// with well-spaced hash keys, chosen by the operator.
//
// Keeps shards sorted by hash key and walks to the first key at or past
// the probe, rather than `hash % numShards`, so adding a shard only
// moves the keys in its new arc instead of reshuffling every key on
// every shard-count change.
package ring

import (
	"sort"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
)

// Ring is an ordered-by-hash-key, immutable view of shard descriptors.
// Build once from a config snapshot; never mutated after construction.
type Ring struct {
	shards []model.ShardDescriptor
}

// New sorts descriptors by (hashKey, shardID) and returns the resulting
// ring. Descriptors sharing a hash key are not both kept: the one with
// the lexicographically smaller ShardID wins; the loser is
// returned separately so the caller can log it.
func New(descriptors []model.ShardDescriptor) (r Ring, dropped []model.ShardDescriptor) {
	sorted := make([]model.ShardDescriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].HashKey != sorted[j].HashKey {
			return sorted[i].HashKey < sorted[j].HashKey
		}
		return sorted[i].ShardID < sorted[j].ShardID
	})

	deduped := sorted[:0:0]
	for i := 0; i < len(sorted); i++ {
		if i > 0 && sorted[i].HashKey == sorted[i-1].HashKey {
			// sorted[i-1] already won the tie (smaller ShardID, since
			// ties are adjacent after the sort above); this one loses.
			dropped = append(dropped, sorted[i])
			continue
		}
		deduped = append(deduped, sorted[i])
	}
	return Ring{shards: deduped}, dropped
}

// Empty reports whether the ring has no shards.
func (r Ring) Empty() bool { return len(r.shards) == 0 }

// Len returns the number of shards in the ring.
func (r Ring) Len() int { return len(r.shards) }

// Shards returns the ring's descriptors in ring order. The returned
// slice is owned by the caller; mutating it does not affect the ring.
func (r Ring) Shards() []model.ShardDescriptor {
	out := make([]model.ShardDescriptor, len(r.shards))
	copy(out, r.shards)
	return out
}

// Locate returns the first descriptor whose HashKey is >= h, wrapping to
// index 0 if no such descriptor exists. Fails with vderr.EmptyRing if
// the ring has no shards.
func (r Ring) Locate(h uint64) (model.ShardDescriptor, error) {
	if r.Empty() {
		return model.ShardDescriptor{}, vderr.New("ring.Locate", vderr.EmptyRing)
	}
	idx := sort.Search(len(r.shards), func(i int) bool {
		return r.shards[i].HashKey >= h
	})
	if idx == len(r.shards) {
		idx = 0
	}
	return r.shards[idx], nil
}

// IndexOf returns the position of shardID in ring order, or -1 if the
// shard is not present. Used by ownership to compute ring-neighbor
// relations without re-deriving the ring each time.
func (r Ring) IndexOf(shardID string) int {
	for i, s := range r.shards {
		if s.ShardID == shardID {
			return i
		}
	}
	return -1
}

// At returns the descriptor at ring position i, wrapping modulo the
// ring length. Panics if the ring is empty — callers must check Empty
// first, matching ownership's contract that it's only ever called with
// indices derived from a non-empty ring.
func (r Ring) At(i int) model.ShardDescriptor {
	n := len(r.shards)
	return r.shards[((i%n)+n)%n]
}
