// Package clusterconfig provides a process-wide, watched snapshot of
// the cluster config backed by ZooKeeper. A single writer (the control
// surface, package control) calls Update; every process — including
// the writer itself — watches the same path and recomputes its local
// ring/ownership snapshot when the watch fires.
//
// # Concurrency model
//
// The in-memory snapshot is a single *snapshot value swapped atomically
// (atomic.Pointer) after each successful parse. Readers calling
// Current/ReadRing/WriteRing/Shards always observe one coherent tuple —
// never a config from one refresh paired with a ring from another.
//
// # Failure policy
//
// A parse error logs and retains the previous snapshot. A missing ZK
// node is treated as an empty config. A lost ZK session triggers
// reconnection with exponential backoff (github.com/cenkalti/backoff/v4)
// while the store keeps serving its last known snapshot.
package clusterconfig
