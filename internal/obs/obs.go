// Package obs wires the coordination layer's ambient observability:
// a zap sugared logger and a small set of Prometheus collectors shared
// across shardclient, coordinator, and reshard. Metrics registration is
// optional — passing a nil *prometheus.Registry yields no-op metrics so
// tests and short-lived tools don't pay for collector bookkeeping.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NewLogger builds the process-wide sugared logger. Production builds
// want structured JSON; tests and local tools want a human-readable
// console encoder.
func NewLogger(development bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Metrics is the shared Prometheus surface for the coordinator and its
// collaborators. Labels are kept low-cardinality (operation, shard_id)
// since shard_id is operator-bounded, not per-vector.
type Metrics struct {
	ShardRequests   *prometheus.CounterVec
	ShardLatency    *prometheus.HistogramVec
	ReplicationLag  prometheus.Gauge
	ReshardProgress *prometheus.GaugeVec
	reg             *prometheus.Registry
}

// NewMetrics registers the coordination layer's collectors on reg. Pass
// nil to get a Metrics value whose methods are safe no-ops.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return &Metrics{}
	}

	m := &Metrics{
		reg: reg,
		ShardRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vectorshard",
			Name:      "shard_requests_total",
			Help:      "Shard RPCs issued by the coordinator, by operation and outcome.",
		}, []string{"operation", "shard_id", "outcome"}),
		ShardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vectorshard",
			Name:      "shard_request_duration_seconds",
			Help:      "Shard RPC latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ReplicationLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vectorshard",
			Name:      "replication_queue_depth",
			Help:      "Pending asynchronous replication and read-repair tasks.",
		}),
		ReshardProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vectorshard",
			Name:      "reshard_migrated_keys",
			Help:      "Keys migrated so far for a (database, source, target) resharding job.",
		}, []string{"database_id", "source_shard_id", "target_shard_id"}),
	}

	reg.MustRegister(m.ShardRequests, m.ShardLatency, m.ReplicationLag, m.ReshardProgress)
	return m
}

// ObserveShardCall records the outcome and latency of one shard RPC.
// Safe to call on a nil-registry Metrics value.
func (m *Metrics) ObserveShardCall(operation, shardID, outcome string, seconds float64) {
	if m == nil || m.ShardRequests == nil {
		return
	}
	m.ShardRequests.WithLabelValues(operation, shardID, outcome).Inc()
	m.ShardLatency.WithLabelValues(operation).Observe(seconds)
}

// SetReplicationQueueDepth reports the current backlog on the
// replication/read-repair worker pool.
func (m *Metrics) SetReplicationQueueDepth(depth int) {
	if m == nil || m.ReplicationLag == nil {
		return
	}
	m.ReplicationLag.Set(float64(depth))
}

// SetReshardProgress reports how many keys a migration job has moved.
func (m *Metrics) SetReshardProgress(databaseID, sourceShardID, targetShardID string, migrated int64) {
	if m == nil || m.ReshardProgress == nil {
		return
	}
	m.ReshardProgress.WithLabelValues(databaseID, sourceShardID, targetShardID).Set(float64(migrated))
}
