// Package integration exercises the coordination layer end to end: a
// real coordinator.Coordinator, reshard.Engine, and control.Server
// wired against real internal/shardstore storage-node servers over
// HTTP. It holds the cluster config in memory rather than ZooKeeper
// (package clusterconfig's own reload/watch logic isn't the concern
// here); ConfigSource and ConfigStore are interfaces precisely so this
// is possible without a live ensemble.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vectorshard/internal/control"
	"github.com/dreamware/vectorshard/internal/coordinator"
	"github.com/dreamware/vectorshard/internal/health"
	"github.com/dreamware/vectorshard/internal/idgen"
	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/ownership"
	"github.com/dreamware/vectorshard/internal/reshard"
	"github.com/dreamware/vectorshard/internal/ring"
	"github.com/dreamware/vectorshard/internal/router"
	"github.com/dreamware/vectorshard/internal/shardclient"
	"github.com/dreamware/vectorshard/internal/shardstore"
	"github.com/dreamware/vectorshard/internal/vderr"
)

// memConfigStore is an in-memory stand-in for clusterconfig.Store: it
// satisfies both coordinator.ConfigSource and control.ConfigStore by
// swapping one atomic snapshot, the same discipline the real ZK-backed
// store uses, minus the ZooKeeper session.
type memConfigStore struct {
	current atomic.Pointer[snap]
}

type snap struct {
	cfg   model.ClusterConfig
	write ring.Ring
	read  ring.Ring
	owner ownership.Map
}

func newMemConfigStore(cfg model.ClusterConfig) *memConfigStore {
	s := &memConfigStore{}
	s.set(cfg)
	return s
}

func (s *memConfigStore) set(cfg model.ClusterConfig) {
	var readable, writable []model.ShardDescriptor
	for _, sd := range cfg.Shards {
		if sd.Status.Readable() {
			readable = append(readable, sd)
		}
		if sd.Status.Writable() {
			writable = append(writable, sd)
		}
	}
	writeRing, _ := ring.New(writable)
	readRing, _ := ring.New(readable)
	s.current.Store(&snap{cfg: cfg.Clone(), write: writeRing, read: readRing, owner: ownership.New(writeRing)})
}

func (s *memConfigStore) Current() model.ClusterConfig { return s.current.Load().cfg }

func (s *memConfigStore) Update(_ context.Context, cfg model.ClusterConfig) error {
	s.set(cfg)
	return nil
}

func (s *memConfigStore) RouterSnapshot() router.Snapshot {
	sn := s.current.Load()
	return router.Snapshot{WriteRing: sn.write, ReadRing: sn.read, Owner: sn.owner}
}

// testShard bundles a real shardstore storage node with the httptest
// server fronting it, plus the descriptor the cluster config uses to
// address it.
type testShard struct {
	node *shardstore.Node
	srv  *httptest.Server
	desc model.ShardDescriptor
}

func newTestShard(t *testing.T, shardID string, hashKey uint64) *testShard {
	t.Helper()
	node := shardstore.NewNode(shardID)
	server := shardstore.NewServer(node, nil)
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	return &testShard{
		node: node,
		srv:  srv,
		desc: model.ShardDescriptor{ShardID: shardID, BaseURL: srv.URL, HashKey: hashKey, Status: model.ShardStatusActive},
	}
}

func (ts *testShard) hasPrimary(t *testing.T, databaseID string, id int64) bool {
	t.Helper()
	coll, err := ts.node.Collection(databaseID)
	if err != nil {
		return false
	}
	_, err = coll.GetVector(id)
	return err == nil
}

func (ts *testShard) hasReplica(t *testing.T, databaseID string, id int64, sourceShardID string) bool {
	t.Helper()
	coll, err := ts.node.Collection(databaseID)
	if err != nil {
		return false
	}
	_, err = coll.GetReplica(id, sourceShardID)
	return err == nil
}

// harness wires a coordinator, resharding engine, and control surface
// over a mutable in-memory config, mirroring cmd/coordinator's main
// wiring without the ZooKeeper and HTTP-listener parts.
type harness struct {
	t       *testing.T
	store   *memConfigStore
	coord   *coordinator.Coordinator
	reshard *reshard.Engine
	control *control.Server
}

func newHarness(t *testing.T, shards ...model.ShardDescriptor) *harness {
	t.Helper()
	store := newMemConfigStore(model.ClusterConfig{Shards: shards})
	clients := shardclient.NewPool(nil)
	coord := coordinator.New(store, clients, health.New(0, nil), idgen.New(), coordinator.Options{})
	engine := reshard.New(clients, reshard.Options{})
	ctrl := control.New(store, engine, coord.ListDatabases, control.Options{})
	return &harness{t: t, store: store, coord: coord, reshard: engine, control: ctrl}
}

// applyConfig drives the control surface the way the operator HTTP
// endpoint would: write the new config, then synchronously run the
// resharding engine so the test doesn't need to poll for the
// background goroutine control.Server.triggerReshard kicks off.
func (h *harness) applyConfig(t *testing.T, newCfg model.ClusterConfig) {
	t.Helper()
	oldCfg := h.store.Current()
	h.store.set(newCfg)
	dbs, err := h.coord.ListDatabases(t.Context())
	if err != nil {
		dbs = nil
	}
	require.NoError(t, h.reshard.Run(t.Context(), oldCfg, newCfg, dbs))
}

// Two shards, add and read: the replica lands on the ring successor.
func TestTwoShardAddAndRead(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	s2 := newTestShard(t, "shard2", 4_611_686_018_427_387_903)
	h := newHarness(t, s1.desc, s2.desc)

	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db1", "Primary", 3))

	id, err := h.coord.AddVector(t.Context(), model.VectorRecord{
		ID: 100, DatabaseID: "db1", Embedding: []float32{0.1, 0.2, 0.3}, OriginalData: []byte("a"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)

	rec, err := h.coord.GetVector(t.Context(), "db1", 100)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, rec.Embedding)
	assert.Equal(t, []byte("a"), rec.OriginalData)

	// Exactly one of shard1/shard2 holds the primary; the other holds
	// the tagged replica.
	onS1 := s1.hasPrimary(t, "db1", 100)
	onS2 := s2.hasPrimary(t, "db1", 100)
	require.NotEqual(t, onS1, onS2, "exactly one shard should hold the primary copy")

	primaryID, other := "shard1", s2
	if onS2 {
		primaryID, other = "shard2", s1
	}
	require.Eventually(t, func() bool {
		return other.hasReplica(t, "db1", 100, primaryID)
	}, time.Second, 10*time.Millisecond, "the other shard should hold the replica tagged with the primary's shard id")
}

// With a primary down, Get falls back to the replica.
func TestGetFallsBackWhenPrimaryDown(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	s2 := newTestShard(t, "shard2", 1<<63)
	h := newHarness(t, s1.desc, s2.desc)

	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db1", "Primary", 2))

	// Find an id that routes to s1 as primary.
	var id int64
	for probe := int64(1); ; probe++ {
		route, err := router.RouteForWrite(h.store.RouterSnapshot(), probe)
		require.NoError(t, err)
		if route.Primary.ShardID == "shard1" {
			id = probe
			break
		}
		if probe > 10000 {
			t.Fatal("could not find an id routing to shard1")
		}
	}

	_, err := h.coord.AddVector(t.Context(), model.VectorRecord{ID: id, DatabaseID: "db1", Embedding: []float32{1, 2}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s2.hasReplica(t, "db1", id, "shard1")
	}, time.Second, 10*time.Millisecond, "replica write should have landed on shard2")

	// Take shard1 offline by closing its server; Get must still succeed
	// via the replica.
	s1.srv.Close()

	rec, err := h.coord.GetVector(t.Context(), "db1", id)
	require.NoError(t, err, "Get should fall back to the replica when the primary is unreachable")
	assert.Equal(t, id, rec.ID)
}

// Search fans out to every shard and merges to the global top-k.
func TestSearchMergesTopK(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	s2 := newTestShard(t, "shard2", 1<<62)
	s3 := newTestShard(t, "shard3", 1<<63|1<<62)
	h := newHarness(t, s1.desc, s2.desc, s3.desc)

	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db1", "Primary", 1))

	// Add twenty vectors whose embedding value encodes distance from a
	// zero probe, spread across all three shards by id hash.
	for v := int64(1); v <= 20; v++ {
		_, err := h.coord.AddVector(t.Context(), model.VectorRecord{
			ID: v, DatabaseID: "db1", Embedding: []float32{float32(v)},
		})
		require.NoError(t, err)
	}

	results, err := h.coord.Search(t.Context(), "db1", []float32{0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance, "results must be sorted ascending by distance")
	}
	seen := map[int64]bool{}
	for _, r := range results {
		assert.False(t, seen[r.ID], "duplicate id %d in merged results", r.ID)
		seen[r.ID] = true
	}
	// The five nearest embeddings to probe 0 are ids 1..5.
	for id := int64(1); id <= 5; id++ {
		assert.True(t, seen[id], "expected id %d among the global top-5", id)
	}
}

// Adding a shard migrates the primary keys that now belong to it,
// leaving every vector reachable afterward.
func TestAddShardMigratesData(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	s2 := newTestShard(t, "shard2", 1<<63)
	h := newHarness(t, s1.desc, s2.desc)

	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db1", "Primary", 1))

	const n = 40
	ids := make([]int64, 0, n)
	for v := int64(1); int64(len(ids)) < n; v++ {
		_, err := h.coord.AddVector(t.Context(), model.VectorRecord{ID: v, DatabaseID: "db1", Embedding: []float32{float32(v)}})
		require.NoError(t, err)
		ids = append(ids, v)
	}

	// Every vector should still be gettable before resharding.
	for _, id := range ids {
		_, err := h.coord.GetVector(t.Context(), "db1", id)
		require.NoError(t, err)
	}

	s3 := newTestShard(t, "shard3", 1<<62)
	newCfg := model.ClusterConfig{Shards: []model.ShardDescriptor{s1.desc, s2.desc, s3.desc}}
	h.applyConfig(t, newCfg)

	// (a) every vector is still reachable.
	for _, id := range ids {
		rec, err := h.coord.GetVector(t.Context(), "db1", id)
		require.NoErrorf(t, err, "vector %d should remain reachable after resharding", id)
		assert.Equal(t, id, rec.ID)
	}

	// (b) shard3 now hosts some of the migrated data.
	var s3Count int64
	for _, db := range s3.node.ListDatabases() {
		if db.ID == "db1" {
			s3Count = db.VectorCount
		}
	}
	assert.Greater(t, s3Count, int64(0), "shard3 should have received migrated data")

	// (c) each vector's primary copy lives exactly where the new write
	// ring says it should, and nowhere else.
	byShardID := map[string]*testShard{"shard1": s1, "shard2": s2, "shard3": s3}
	for _, id := range ids {
		route, err := router.RouteForWrite(h.store.RouterSnapshot(), id)
		require.NoError(t, err)
		for shardID, ts := range byShardID {
			want := shardID == route.Primary.ShardID
			assert.Equalf(t, want, ts.hasPrimary(t, "db1", id),
				"vector %d: primary presence on %s should be %v", id, shardID, want)
		}
	}
}

// Dimension mismatch fails fast with no shard RPC.
func TestSearchDimensionMismatch(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	h := newHarness(t, s1.desc)

	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db2", "Secondary", 4))

	_, err := h.coord.Search(t.Context(), "db2", []float32{1, 2, 3}, 5)
	require.Error(t, err)
	assert.Equal(t, vderr.DimensionMismatch, vderr.KindOf(err))
}

// Empty cluster: every write and read fails with Unavailable.
func TestEmptyClusterIsUnavailable(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.AddVector(t.Context(), model.VectorRecord{ID: 1, DatabaseID: "db1", Embedding: []float32{1}})
	require.Error(t, err)
	assert.Equal(t, vderr.Unavailable, vderr.KindOf(err))

	_, err = h.coord.GetVector(t.Context(), "db1", 1)
	require.Error(t, err)
	assert.Equal(t, vderr.Unavailable, vderr.KindOf(err))
}

// Applying the same config twice must not trigger any data movement.
func TestReapplyingSameConfigIsANoop(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	s2 := newTestShard(t, "shard2", 1<<63)
	h := newHarness(t, s1.desc, s2.desc)

	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db1", "Primary", 1))
	_, err := h.coord.AddVector(t.Context(), model.VectorRecord{ID: 1, DatabaseID: "db1", Embedding: []float32{1}})
	require.NoError(t, err)

	placementBefore := []bool{s1.hasPrimary(t, "db1", 1), s2.hasPrimary(t, "db1", 1)}

	before := h.store.Current()
	h.applyConfig(t, before)
	after := h.store.Current()
	assert.Equal(t, before, after)

	placementAfter := []bool{s1.hasPrimary(t, "db1", 1), s2.hasPrimary(t, "db1", 1)}
	assert.Equal(t, placementBefore, placementAfter, "reapplying the same config must not move the primary copy")
}

// The operator control surface accepts a config over HTTP and drives
// resharding as a background job, without blocking the response on
// migration completing.
func TestControlSurfaceAppliesConfigOverHTTP(t *testing.T) {
	s1 := newTestShard(t, "shard1", 0)
	h := newHarness(t, s1.desc)
	require.NoError(t, h.coord.CreateDatabase(t.Context(), "db1", "Primary", 1))

	srv := httptest.NewServer(h.control)
	defer srv.Close()

	s2 := newTestShard(t, "shard2", 1<<63)
	newCfg := model.ClusterConfig{Shards: []model.ShardDescriptor{s1.desc, s2.desc}}
	body, err := json.Marshal(newCfg)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/config", strings.NewReader(string(body)))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		return len(h.store.Current().Shards) == 2
	}, time.Second, 10*time.Millisecond)
}
