package coordinator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/vectorshard/internal/health"
	"github.com/dreamware/vectorshard/internal/idgen"
	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/obs"
	"github.com/dreamware/vectorshard/internal/router"
	"github.com/dreamware/vectorshard/internal/shardclient"
	"github.com/dreamware/vectorshard/internal/vderr"
	"github.com/dreamware/vectorshard/internal/wire"
)

// safetyMargin is subtracted from a caller's deadline before issuing a
// shard RPC, so the coordinator always has time to observe and handle
// the shard's timeout rather than having its own context race it.
const safetyMargin = 50 * time.Millisecond

// Options configures a Coordinator. Zero values pick sensible defaults.
type Options struct {
	// ReplicationPoolSize bounds concurrent async replication/read-repair
	// tasks. Default 256.
	ReplicationPoolSize int64
	Logger              *zap.SugaredLogger
	Metrics             *obs.Metrics
}

func (o Options) withDefaults() Options {
	if o.ReplicationPoolSize <= 0 {
		o.ReplicationPoolSize = 256
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// ConfigSource supplies the routing snapshot a Coordinator needs for
// every request. *clusterconfig.Store satisfies this; tests can supply
// a fake without standing up a ZooKeeper session.
type ConfigSource interface {
	RouterSnapshot() router.Snapshot
}

// Coordinator implements the add/get/delete/search protocol.
type Coordinator struct {
	cfg     ConfigSource
	clients *shardclient.Pool
	health  *health.Monitor
	ids     *idgen.Generator
	repl    *replPool
	logger  *zap.SugaredLogger
	metrics *obs.Metrics

	dimsMu sync.RWMutex
	dims   map[string]int // databaseID -> dimension, known from CreateDatabase
}

// New builds a Coordinator over the given cluster config store, shard
// client pool, health monitor, and id generator.
func New(cfg ConfigSource, clients *shardclient.Pool, healthMonitor *health.Monitor, ids *idgen.Generator, opts Options) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		cfg:     cfg,
		clients: clients,
		health:  healthMonitor,
		ids:     ids,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		dims:    make(map[string]int),
	}
	var depth atomic.Int64
	c.repl = newReplPool(opts.ReplicationPoolSize, func(delta int) {
		c.metrics.SetReplicationQueueDepth(int(depth.Add(int64(delta))))
	})
	return c
}

// reportShardFailure feeds transport-level RPC failures into the health
// monitor as passive signals. Only Unavailable/Timeout count: a
// NotFound or a dimension error is a healthy shard answering.
func (c *Coordinator) reportShardFailure(shardID string, err error) {
	if c.health == nil {
		return
	}
	switch vderr.KindOf(err) {
	case vderr.Unavailable, vderr.Timeout:
		c.health.ReportFailure(shardID)
	}
}

func (c *Coordinator) clientFor(sd model.ShardDescriptor) *shardclient.Client {
	return c.clients.Get(sd.ShardID, sd.BaseURL)
}

func withMargin(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(ctx, deadline.Add(-safetyMargin))
	}
	return context.WithCancel(ctx)
}

// AddVector resolves an id if the caller didn't supply one, routes to
// (primary, replica), writes the primary synchronously, and enqueues
// an async replica write. Primary failures are surfaced; replica
// failures are only logged.
func (c *Coordinator) AddVector(ctx context.Context, rec model.VectorRecord) (int64, error) {
	c.dimsMu.RLock()
	dim, known := c.dims[rec.DatabaseID]
	c.dimsMu.RUnlock()
	if known && len(rec.Embedding) != dim {
		return 0, vderr.New("coordinator.AddVector", vderr.DimensionMismatch)
	}

	if rec.ID == 0 {
		rec.ID = c.ids.Next()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	snap := c.cfg.RouterSnapshot()
	route, err := router.RouteForWrite(snap, rec.ID)
	if err != nil {
		if vderr.Is(err, vderr.EmptyRing) {
			return 0, vderr.New("coordinator.AddVector", vderr.Unavailable)
		}
		return 0, err
	}

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	id, err := c.clientFor(route.Primary).AddVector(rpcCtx, rec)
	if err != nil {
		c.reportShardFailure(route.Primary.ShardID, err)
		return 0, err
	}
	rec.ID = id

	if !route.ReplicaIsNoop {
		replicaClient := c.clientFor(route.Replica)
		primaryShardID := route.Primary.ShardID
		replicaRec := rec
		c.repl.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := replicaClient.AddVectorReplica(ctx, replicaRec, primaryShardID); err != nil {
				c.logger.Warnw("async replica add failed", "shard_id", route.Replica.ShardID, "vector_id", replicaRec.ID, "error", err)
			}
		})
	}

	return id, nil
}

// GetVector walks primary, replica, then the remaining read-ring
// shards in ring order, returning the first match. On the replica shard
// the copy tagged with the primary's shard id is read first, then that
// shard's own primary data. A hit on a non-primary shard schedules an
// asynchronous read-repair write targeting the expected primary.
func (c *Coordinator) GetVector(ctx context.Context, databaseID string, id int64) (model.VectorRecord, error) {
	snap := c.cfg.RouterSnapshot()
	route, routeErr := router.RouteForWrite(snap, id)

	candidates := c.candidateOrder(snap, route, routeErr)
	if len(candidates) == 0 {
		return model.VectorRecord{}, vderr.New("coordinator.GetVector", vderr.Unavailable)
	}

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	var lastErr error
	for i, sd := range candidates {
		client := c.clientFor(sd)
		var rec model.VectorRecord
		var err error
		if routeErr == nil && !route.ReplicaIsNoop && sd.ShardID == route.Replica.ShardID {
			rec, err = client.GetVectorReplica(rpcCtx, databaseID, id, route.Primary.ShardID)
			if vderr.Is(err, vderr.NotFound) {
				rec, err = client.GetVector(rpcCtx, databaseID, id)
			}
		} else {
			rec, err = client.GetVector(rpcCtx, databaseID, id)
		}
		if err == nil {
			if i > 0 && routeErr == nil {
				c.scheduleReadRepair(rec, route.Primary, sd.ShardID)
			}
			return rec, nil
		}
		if vderr.Is(err, vderr.NotFound) {
			lastErr = err
			continue
		}
		c.logger.Infow("get_vector candidate failed, continuing walk", "shard_id", sd.ShardID, "vector_id", id, "error", err)
		c.reportShardFailure(sd.ShardID, err)
		lastErr = err
	}

	if lastErr != nil && vderr.Is(lastErr, vderr.NotFound) {
		return model.VectorRecord{}, lastErr
	}
	return model.VectorRecord{}, vderr.New("coordinator.GetVector", vderr.NotFound)
}

func (c *Coordinator) scheduleReadRepair(rec model.VectorRecord, primary model.ShardDescriptor, foundOnShardID string) {
	primaryClient := c.clientFor(primary)
	c.repl.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := primaryClient.AddVectorReplica(ctx, rec, foundOnShardID); err != nil {
			c.logger.Warnw("read-repair write failed", "primary_shard_id", primary.ShardID, "vector_id", rec.ID, "error", err)
		}
	})
}

// candidateOrder returns the stable shard-visit order for Get/Delete:
// primary, replica, then the rest of the read ring. Duplicates (replica
// == primary on a single-shard ring) are collapsed.
func (c *Coordinator) candidateOrder(snap router.Snapshot, route router.Route, routeErr error) []model.ShardDescriptor {
	var order []model.ShardDescriptor
	seen := map[string]bool{}

	add := func(sd model.ShardDescriptor) {
		if sd.ShardID == "" || seen[sd.ShardID] {
			return
		}
		seen[sd.ShardID] = true
		order = append(order, sd)
	}

	if routeErr == nil {
		add(route.Primary)
		if !route.ReplicaIsNoop {
			add(route.Replica)
		}
	}
	for _, sd := range router.ReadableShards(snap) {
		add(sd)
	}
	return order
}

// DeleteVector performs a best-effort delete across the same candidate
// order as Get. The first successful delete is reported; a
// primary-successful delete enqueues an async replica delete.
func (c *Coordinator) DeleteVector(ctx context.Context, databaseID string, id int64) (bool, error) {
	snap := c.cfg.RouterSnapshot()
	route, routeErr := router.RouteForWrite(snap, id)
	candidates := c.candidateOrder(snap, route, routeErr)
	if len(candidates) == 0 {
		return false, vderr.New("coordinator.DeleteVector", vderr.Unavailable)
	}

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	for _, sd := range candidates {
		err := c.clientFor(sd).DeleteVector(rpcCtx, databaseID, id)
		if err == nil {
			if routeErr == nil && sd.ShardID == route.Primary.ShardID && !route.ReplicaIsNoop {
				replicaClient := c.clientFor(route.Replica)
				c.repl.Go(func() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := replicaClient.DeleteVectorReplica(ctx, databaseID, id, route.Primary.ShardID); err != nil {
						c.logger.Warnw("async replica delete failed", "shard_id", route.Replica.ShardID, "vector_id", id, "error", err)
					}
				})
			}
			return true, nil
		}
		if !vderr.Is(err, vderr.NotFound) {
			c.logger.Infow("delete_vector candidate failed, continuing walk", "shard_id", sd.ShardID, "vector_id", id, "error", err)
			c.reportShardFailure(sd.ShardID, err)
		}
	}
	return false, nil
}

// Search fans out to every available read-ring shard, and for every
// unavailable shard, to its replica location (if that is available).
// Results are deduplicated by id (smallest distance wins), sorted
// ascending by distance with ties broken by ascending id, and
// truncated to k.
func (c *Coordinator) Search(ctx context.Context, databaseID string, probe []float32, k int) ([]wire.Result, error) {
	c.dimsMu.RLock()
	dim, known := c.dims[databaseID]
	c.dimsMu.RUnlock()
	if known && len(probe) != dim {
		return nil, vderr.New("coordinator.Search", vderr.DimensionMismatch)
	}

	snap := c.cfg.RouterSnapshot()
	shards := router.ReadableShards(snap)
	if len(shards) == 0 {
		return nil, vderr.New("coordinator.Search", vderr.Unavailable)
	}

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	type call struct {
		shardID string
		replica bool
		source  string
	}
	var calls []call
	for _, sd := range shards {
		if c.health != nil && c.health.Unavailable(sd.ShardID) {
			replicaID, ok := snap.Owner.ReplicaLocation(sd.ShardID)
			if ok && replicaID != sd.ShardID && !c.health.Unavailable(replicaID) {
				calls = append(calls, call{shardID: replicaID, replica: true, source: sd.ShardID})
			}
			continue
		}
		calls = append(calls, call{shardID: sd.ShardID})
	}

	byID := make(map[string]model.ShardDescriptor, len(shards))
	for _, sd := range shards {
		byID[sd.ShardID] = sd
	}

	results := make([][]wire.Result, len(calls))
	g, gctx := errgroup.WithContext(rpcCtx)
	for i, call := range calls {
		i, call := i, call
		sd, ok := byID[call.shardID]
		if !ok {
			continue
		}
		g.Go(func() error {
			client := c.clientFor(sd)
			var (
				r   []wire.Result
				err error
			)
			if call.replica {
				r, err = client.SearchReplicas(gctx, databaseID, probe, k, call.source)
			} else {
				r, err = client.Search(gctx, databaseID, probe, k)
			}
			if err != nil {
				c.logger.Infow("search call failed, skipping shard", "shard_id", call.shardID, "error", err)
				c.reportShardFailure(call.shardID, err)
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	return mergeSearchResults(results, k), nil
}

func mergeSearchResults(perShard [][]wire.Result, k int) []wire.Result {
	best := make(map[int64]wire.Result)
	for _, shardResults := range perShard {
		for _, r := range shardResults {
			existing, ok := best[r.ID]
			if !ok || r.Distance < existing.Distance {
				best[r.ID] = r
			}
		}
	}

	merged := make([]wire.Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].ID < merged[j].ID
	})
	if k >= 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

// CreateDatabase broadcasts create_database to every shard in the
// current write ring, treating AlreadyExists (vderr.Conflict) as
// success — the same tolerance the resharding engine applies when
// provisioning a newly added shard, extended here to initial
// provisioning. The call as a whole succeeds if at least
// one shard accepts; a down or failing shard among several is not
// fatal, it's just one fewer replica of the database's metadata until
// it's retried.
func (c *Coordinator) CreateDatabase(ctx context.Context, id, name string, dimension int) error {
	c.dimsMu.RLock()
	existingDim, known := c.dims[id]
	c.dimsMu.RUnlock()
	if known && existingDim != dimension {
		return vderr.New("coordinator.CreateDatabase", vderr.Conflict)
	}

	snap := c.cfg.RouterSnapshot()
	shards := snap.WriteRing.Shards()
	if len(shards) == 0 {
		return vderr.New("coordinator.CreateDatabase", vderr.Unavailable)
	}

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		accepted int
		lastErr  error
	)
	var wg sync.WaitGroup
	for _, sd := range shards {
		sd := sd
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.clientFor(sd).CreateDatabase(rpcCtx, id, name, dimension)
			mu.Lock()
			defer mu.Unlock()
			if err == nil || vderr.Is(err, vderr.Conflict) {
				accepted++
				return
			}
			c.logger.Infow("create_database failed on shard, continuing", "shard_id", sd.ShardID, "database_id", id, "error", err)
			lastErr = err
		}()
	}
	wg.Wait()

	if accepted == 0 {
		if lastErr != nil {
			return lastErr
		}
		return vderr.New("coordinator.CreateDatabase", vderr.Unavailable)
	}
	c.dimsMu.Lock()
	c.dims[id] = dimension
	c.dimsMu.Unlock()
	return nil
}

// DropDatabase broadcasts drop_database to every shard in the current
// read ring, treating NotFound as idempotent success — a
// shard that already dropped the database (or never had it) doesn't
// make the overall drop fail, and the call succeeds if at least one
// shard accepts the drop or reports NotFound.
func (c *Coordinator) DropDatabase(ctx context.Context, databaseID string) error {
	snap := c.cfg.RouterSnapshot()
	shards := snap.ReadRing.Shards()

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		accepted int
		lastErr  error
	)
	var wg sync.WaitGroup
	for _, sd := range shards {
		sd := sd
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.clientFor(sd).DropDatabase(rpcCtx, databaseID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil || vderr.Is(err, vderr.NotFound) {
				accepted++
				return
			}
			c.logger.Infow("drop_database failed on shard, continuing", "shard_id", sd.ShardID, "database_id", databaseID, "error", err)
			lastErr = err
		}()
	}
	wg.Wait()

	if len(shards) > 0 && accepted == 0 {
		if lastErr != nil {
			return lastErr
		}
		return vderr.New("coordinator.DropDatabase", vderr.Unavailable)
	}
	c.dimsMu.Lock()
	delete(c.dims, databaseID)
	c.dimsMu.Unlock()
	return nil
}

// ListDatabases queries one read-ring shard. Database descriptors are
// shard-agnostic metadata created identically on every shard by
// CreateDatabase, so any reachable shard's answer is authoritative.
func (c *Coordinator) ListDatabases(ctx context.Context) ([]model.DatabaseDescriptor, error) {
	snap := c.cfg.RouterSnapshot()
	shards := snap.ReadRing.Shards()

	rpcCtx, cancel := withMargin(ctx)
	defer cancel()

	var lastErr error
	for _, sd := range shards {
		dbs, err := c.clientFor(sd).ListDatabases(rpcCtx)
		if err == nil {
			return dbs, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = vderr.New("coordinator.ListDatabases", vderr.Unavailable)
	}
	return nil, lastErr
}
