// Package ownership derives the primary→replica relation from a hash
// ring. It is recomputed whenever the ring changes; a Map is an
// immutable snapshot so readers always see ownership that matches the
// ring they routed against.
package ownership

import "github.com/dreamware/vectorshard/internal/ring"

// Map is the ownership relation for one ring snapshot: for ring entry
// s_i, ReplicaLocation(s_i) = s_(i+1 mod n), and ReplicaSources(s_j) =
// {s_(j-1 mod n)}. On a single-shard ring a shard replicates to itself,
// which callers treat as a no-op (see coordinator's replica-skip check).
type Map struct {
	r ring.Ring
}

// New builds the ownership map for the given ring. Construction is O(1):
// all lookups are computed on demand from ring positions.
func New(r ring.Ring) Map {
	return Map{r: r}
}

// ReplicaLocation returns the shard that holds the replica for
// shardID's primary keys, and true if shardID is present in the ring.
func (m Map) ReplicaLocation(shardID string) (shard string, ok bool) {
	idx := m.r.IndexOf(shardID)
	if idx < 0 {
		return "", false
	}
	if m.r.Len() == 1 {
		return shardID, true
	}
	return m.r.At(idx + 1).ShardID, true
}

// ReplicaSources returns the shard whose primary data replicates onto
// shardID, and true if shardID is present in the ring.
func (m Map) ReplicaSources(shardID string) (source string, ok bool) {
	idx := m.r.IndexOf(shardID)
	if idx < 0 {
		return "", false
	}
	if m.r.Len() == 1 {
		return shardID, true
	}
	return m.r.At(idx - 1).ShardID, true
}
