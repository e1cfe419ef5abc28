// Package model holds the wire-and-storage data types shared across the
// coordination layer: vector records, database descriptors, shard
// descriptors, and the cluster config that ties them together. These
// types cross package boundaries constantly (ring, clusterconfig,
// router, coordinator, reshard all import model) so they live in one
// place with no behavior beyond JSON shape and light validation.
package model

import "time"

// VectorRecord is one embedding entry. Immutable once written; an
// upsert replaces it atomically rather than mutating in place.
type VectorRecord struct {
	ID           int64     `json:"id"`
	Embedding    []float32 `json:"embedding"`
	OriginalData []byte    `json:"originalData"`
	DatabaseID   string    `json:"databaseId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DatabaseDescriptor is the metadata record for one logical database.
// Dimension is immutable after the first shard accepts it.
type DatabaseDescriptor struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Dimension   int       `json:"dimension"`
	VectorCount int64     `json:"vectorCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ShardStatus is the lifecycle state of a shard descriptor. Only NEW and
// ACTIVE are exercised by the "add shard" resharding workflow; DRAINING
// and DECOMMISSIONED are modeled as a hook for shard removal.
type ShardStatus string

const (
	ShardStatusNew            ShardStatus = "NEW"
	ShardStatusActive         ShardStatus = "ACTIVE"
	ShardStatusDraining       ShardStatus = "DRAINING"
	ShardStatusDecommissioned ShardStatus = "DECOMMISSIONED"
)

// Readable reports whether a shard in this status may serve reads.
func (s ShardStatus) Readable() bool {
	return s == ShardStatusActive || s == ShardStatusDraining
}

// Writable reports whether a shard in this status may accept writes.
func (s ShardStatus) Writable() bool {
	return s == ShardStatusNew || s == ShardStatusActive
}

// ShardDescriptor identifies one storage node and its ring position.
type ShardDescriptor struct {
	ShardID string      `json:"shardId"`
	BaseURL string      `json:"baseUrl"`
	HashKey uint64      `json:"hashKey"`
	Status  ShardStatus `json:"status"`
}

// ClusterConfig is the single source of truth written to, and read from,
// the coordination service. Ring, ownership, and the read/write shard
// lists are all derived from this value.
type ClusterConfig struct {
	Shards   []ShardDescriptor `json:"shards"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy, so callers can hand out a ClusterConfig
// without readers racing on mutation of the shard slice or map.
func (c ClusterConfig) Clone() ClusterConfig {
	shards := make([]ShardDescriptor, len(c.Shards))
	copy(shards, c.Shards)
	var meta map[string]string
	if c.Metadata != nil {
		meta = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
	}
	return ClusterConfig{Shards: shards, Metadata: meta}
}

// ShardsByID indexes a shard slice by ShardID for set-difference style
// comparisons (used by the resharding engine to compute added shards).
func ShardsByID(shards []ShardDescriptor) map[string]ShardDescriptor {
	out := make(map[string]ShardDescriptor, len(shards))
	for _, s := range shards {
		out[s.ShardID] = s
	}
	return out
}
