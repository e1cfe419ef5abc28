// Package router resolves the primary and replica shard for a vector id
// using the current write ring and ownership map, and exposes the
// read-ring snapshot for fan-out reads.
package router

import (
	"encoding/binary"
	"errors"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/ownership"
	"github.com/dreamware/vectorshard/internal/ring"
)

var errNotInRing = errors.New("router: replica shard not present in write ring")

// Snapshot is the set of rings and ownership a router needs for one
// routing decision. Coordinator code obtains one of these from
// clusterconfig.Store on every request so concurrent config updates
// never leave a single request straddling two topologies.
type Snapshot struct {
	WriteRing ring.Ring
	ReadRing  ring.Ring
	Owner     ownership.Map
}

// Route is the result of RouteForWrite: the primary shard that owns id,
// and the replica shard that should hold a tagged copy.
type Route struct {
	Primary model.ShardDescriptor
	Replica model.ShardDescriptor
	// ReplicaIsNoop is true when primary and replica are the same shard
	// (single-shard ring), in which case replication is a no-op.
	ReplicaIsNoop bool
}

// RouteForWrite resolves (primary, replica) for a vector id against the
// write ring. Fails with vderr.EmptyRing (via ring.Locate) if the write
// ring has no shards.
func RouteForWrite(snap Snapshot, id int64) (Route, error) {
	h := Hash(id)
	primary, err := snap.WriteRing.Locate(h)
	if err != nil {
		return Route{}, err
	}
	replicaID, ok := snap.Owner.ReplicaLocation(primary.ShardID)
	if !ok {
		// Ownership was derived from a different ring than WriteRing;
		// treat the primary as its own replica rather than fail the
		// write outright — this only arises from caller misuse.
		return Route{Primary: primary, Replica: primary, ReplicaIsNoop: true}, nil
	}
	if replicaID == primary.ShardID {
		return Route{Primary: primary, Replica: primary, ReplicaIsNoop: true}, nil
	}
	replica, err := locateByID(snap.WriteRing, replicaID)
	if err != nil {
		return Route{Primary: primary, Replica: primary, ReplicaIsNoop: true}, nil
	}
	return Route{Primary: primary, Replica: replica}, nil
}

// ReadableShards returns the read-ring snapshot in ring order: shards
// whose status is ACTIVE or DRAINING.
func ReadableShards(snap Snapshot) []model.ShardDescriptor {
	return snap.ReadRing.Shards()
}

func locateByID(r ring.Ring, shardID string) (model.ShardDescriptor, error) {
	for _, s := range r.Shards() {
		if s.ShardID == shardID {
			return s, nil
		}
	}
	// Fall back to a zero-value lookup failure; callers treat this the
	// same as a no-op replica.
	var zero model.ShardDescriptor
	return zero, errNotInRing
}

// Hash is the stable, endian-independent mixing function over a vector
// id: the exact mix is an implementation choice, the only requirement
// is determinism across processes regardless of host byte order. This
// fixes the id's little-endian byte representation before mixing so
// two processes of different endianness always agree. The mixer itself
// is splitmix64, a well-known finalizer with good avalanche behavior.
func Hash(id int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	x := binary.LittleEndian.Uint64(buf[:])

	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x = x ^ (x >> 31)
	return x
}
