// Package reshard implements the online resharding engine triggered
// whenever the control surface (package control) commits a cluster
// config whose shard set grows. Run detects added shards, derives a
// migration job per (source, target) pair, then scans and copies each
// affected range before reshuffling replicas to match the new
// ownership map.
package reshard

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/obs"
	"github.com/dreamware/vectorshard/internal/ownership"
	"github.com/dreamware/vectorshard/internal/ring"
	"github.com/dreamware/vectorshard/internal/router"
	"github.com/dreamware/vectorshard/internal/shardclient"
)

const (
	defaultBatchSize       = 500
	defaultPoolConcurrency = 4
)

// Options configures an Engine. Zero values use sensible defaults.
type Options struct {
	// BatchSize bounds scan_range/put_batch/delete_batch calls. Default 500.
	BatchSize int
	// PoolConcurrency bounds how many distinct (source,target) jobs run
	// in parallel. Default 4.
	PoolConcurrency int64
	Logger          *zap.SugaredLogger
	Metrics         *obs.Metrics
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.PoolConcurrency <= 0 {
		o.PoolConcurrency = defaultPoolConcurrency
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Engine drives the add-shard migration workflow.
type Engine struct {
	pool *shardclient.Pool
	opts Options
}

// New builds a resharding engine over the given shard client pool.
func New(pool *shardclient.Pool, opts Options) *Engine {
	return &Engine{pool: pool, opts: opts.withDefaults()}
}

// job is one (source, target) migration unit derived from a single new
// shard; every database is migrated within it, one after another.
type job struct {
	id         string
	target     model.ShardDescriptor
	source     model.ShardDescriptor
	rangeStart uint64 // exclusive
	rangeEnd   uint64 // inclusive
}

// Run executes the full resharding workflow for the transition from
// oldCfg to newCfg, against the given known databases. It returns after
// every (source, target) job has finished or been abandoned for every
// database;
// per-batch and per-entry failures are logged and do not abort other
// jobs.
func (e *Engine) Run(ctx context.Context, oldCfg, newCfg model.ClusterConfig, databases []model.DatabaseDescriptor) error {
	oldByID := model.ShardsByID(oldCfg.Shards)
	newByID := model.ShardsByID(newCfg.Shards)

	var added []model.ShardDescriptor
	for id, sd := range newByID {
		if _, existed := oldByID[id]; !existed {
			added = append(added, sd)
		}
	}
	if len(added) == 0 {
		return nil
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ShardID < added[j].ShardID })

	// Step 1: materialize databases on every new shard.
	if err := e.materializeDatabases(ctx, added, databases); err != nil {
		e.opts.Logger.Warnw("reshard: step 1 (materialize databases) had failures", "error", err)
	}

	// Step 2: derive one (source, target, moving range) job per new shard.
	oldRing, _ := ring.New(oldCfg.Shards)
	newRing, _ := ring.New(newCfg.Shards)
	jobs, err := e.deriveJobs(oldRing, newRing, added)
	if err != nil {
		return err
	}

	resolve := func(shardID string) (model.ShardDescriptor, bool) {
		if sd, ok := newByID[shardID]; ok {
			return sd, true
		}
		sd, ok := oldByID[shardID]
		return sd, ok
	}
	oldOwner := ownership.New(oldRing)
	newOwner := ownership.New(newRing)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.opts.PoolConcurrency))
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			for _, db := range databases {
				e.migrateOneDatabase(gctx, j, db, oldOwner, newOwner, resolve)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) materializeDatabases(ctx context.Context, added []model.ShardDescriptor, databases []model.DatabaseDescriptor) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sd := range added {
		sd := sd
		for _, db := range databases {
			db := db
			g.Go(func() error {
				client := e.pool.Get(sd.ShardID, sd.BaseURL)
				if err := client.CreateDatabase(gctx, db.ID, db.DisplayName, db.Dimension); err != nil {
					e.opts.Logger.Warnw("reshard: create_database failed", "shard_id", sd.ShardID, "database_id", db.ID, "error", err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// deriveJobs computes, for each new shard t, its immediate predecessor
// prev_t in the new ring by hash_key (with wrap), probes the old ring
// at prev_t.hash_key+1 to find the source shard, and records the
// moving half-open range (prev_t.hash_key, t.hash_key].
func (e *Engine) deriveJobs(oldRing, newRing ring.Ring, added []model.ShardDescriptor) ([]job, error) {
	jobs := make([]job, 0, len(added))
	for _, t := range added {
		idx := newRing.IndexOf(t.ShardID)
		if idx < 0 {
			continue
		}
		prevT := newRing.At(idx - 1)

		var probe uint64
		if prevT.HashKey == math.MaxUint64 {
			probe = 0
		} else {
			probe = prevT.HashKey + 1
		}

		source, err := oldRing.Locate(probe)
		if err != nil {
			return nil, fmt.Errorf("reshard: locate source for new shard %s: %w", t.ShardID, err)
		}

		jobs = append(jobs, job{
			id:         uuid.NewString(),
			target:     t,
			source:     source,
			rangeStart: prevT.HashKey,
			rangeEnd:   t.HashKey,
		})
	}
	return jobs, nil
}

// belongsToRange is the belongs_to(h, start, end) predicate, which
// wraps when start >= end.
func belongsToRange(h, start, end uint64) bool {
	if start < end {
		return h > start && h <= end
	}
	return h > start || h <= end
}

// migrateOneDatabase migrates and reshuffles replicas for one database
// within one (source, target) job. Databases within a job run serially
// by construction (this is called in a loop, not fanned out).
func (e *Engine) migrateOneDatabase(ctx context.Context, j job, db model.DatabaseDescriptor, oldOwner, newOwner ownership.Map, resolve func(string) (model.ShardDescriptor, bool)) {
	sourceClient := e.pool.Get(j.source.ShardID, j.source.BaseURL)
	targetClient := e.pool.Get(j.target.ShardID, j.target.BaseURL)

	lastID := int64(math.MinInt64)
	batchSize := e.opts.BatchSize
	var migrated int64

	for {
		batch, err := sourceClient.ScanRange(ctx, db.ID, lastID, math.MaxInt64, batchSize)
		if err != nil {
			e.opts.Logger.Warnw("reshard: scan_range failed, stopping this database's migration",
				"job_id", j.id, "database_id", db.ID, "source_shard_id", j.source.ShardID, "error", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, rec := range batch {
			if rec.ID > lastID {
				lastID = rec.ID
			}
		}

		moving := make([]model.VectorRecord, 0, len(batch))
		for _, rec := range batch {
			if belongsToRange(router.Hash(rec.ID), j.rangeStart, j.rangeEnd) {
				moving = append(moving, rec)
			}
		}
		if len(moving) == 0 {
			continue
		}

		if err := targetClient.PutBatch(ctx, db.ID, moving); err != nil {
			e.opts.Logger.Warnw("reshard: put_batch failed, continuing with next scan",
				"job_id", j.id, "database_id", db.ID, "target_shard_id", j.target.ShardID, "error", err)
			continue
		}
		migrated += int64(len(moving))

		ids := make([]int64, len(moving))
		for i, rec := range moving {
			ids[i] = rec.ID
		}
		if err := sourceClient.DeleteBatch(ctx, db.ID, ids); err != nil {
			e.opts.Logger.Warnw("reshard: delete_batch failed, target now has a duplicate until retried",
				"job_id", j.id, "database_id", db.ID, "source_shard_id", j.source.ShardID, "error", err)
		}

		e.opts.Metrics.SetReshardProgress(db.ID, j.source.ShardID, j.target.ShardID, migrated)

		e.reshuffleReplicas(ctx, j, db, moving, oldOwner, newOwner, resolve)
	}
}

// reshuffleReplicas moves replica copies for one migrated batch so they
// match the post-migration ownership map.
func (e *Engine) reshuffleReplicas(ctx context.Context, j job, db model.DatabaseDescriptor, moved []model.VectorRecord, oldOwner, newOwner ownership.Map, resolve func(string) (model.ShardDescriptor, bool)) {
	oldReplicaID, ok1 := oldOwner.ReplicaLocation(j.source.ShardID)
	newReplicaID, ok2 := newOwner.ReplicaLocation(j.target.ShardID)
	if !ok1 || !ok2 || oldReplicaID == newReplicaID {
		return
	}

	oldReplicaShard, ok := resolve(oldReplicaID)
	if !ok {
		return
	}
	newReplicaShard, ok := resolve(newReplicaID)
	if !ok {
		return
	}

	oldReplicaClient := e.pool.Get(oldReplicaShard.ShardID, oldReplicaShard.BaseURL)
	newReplicaClient := e.pool.Get(newReplicaShard.ShardID, newReplicaShard.BaseURL)

	for _, rec := range moved {
		replica, err := oldReplicaClient.GetVectorReplica(ctx, db.ID, rec.ID, j.source.ShardID)
		if err != nil {
			e.opts.Logger.Warnw("reshard: fetch old replica failed", "job_id", j.id, "vector_id", rec.ID, "error", err)
			continue
		}
		if err := newReplicaClient.AddVectorReplica(ctx, replica, j.target.ShardID); err != nil {
			e.opts.Logger.Warnw("reshard: add new replica failed", "job_id", j.id, "vector_id", rec.ID, "error", err)
			continue
		}
		if err := oldReplicaClient.DeleteVectorReplica(ctx, db.ID, rec.ID, j.source.ShardID); err != nil {
			e.opts.Logger.Warnw("reshard: delete old replica failed", "job_id", j.id, "vector_id", rec.ID, "error", err)
		}
	}
}
