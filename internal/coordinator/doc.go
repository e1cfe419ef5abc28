// Package coordinator implements the read/write routing and
// replication protocol — add, get, delete, search, each composing
// package router for shard resolution, package shardclient for the
// RPCs themselves, and package health for deciding which unavailable
// primaries need a replica fallback.
//
// # Write path
//
// Add resolves (primary, replica) via router.RouteForWrite, issues
// add_vector to the primary synchronously, and on success enqueues an
// asynchronous add_vector_replica to the replica on a bounded worker
// pool. Replication failures are logged, never surfaced to the caller.
//
// # Read path
//
// Get walks primary, then replica, then the remaining read-ring shards
// in a stable order, returning the first match. A hit on a non-primary
// shard schedules an asynchronous read-repair write back to the
// expected primary.
//
// # Search path
//
// Search fans out to every available read-ring shard plus, for each
// unavailable shard, its replica (tagged search_replicas). Results are
// deduplicated by id (smallest distance wins), sorted ascending by
// distance with ties broken by ascending id, and truncated to k.
package coordinator
