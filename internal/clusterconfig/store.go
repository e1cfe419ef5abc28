package clusterconfig

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zookeeper/zk"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/ownership"
	"github.com/dreamware/vectorshard/internal/ring"
	"github.com/dreamware/vectorshard/internal/router"
	"github.com/dreamware/vectorshard/internal/vderr"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Path layout under the configured base.
const (
	configSubpath        = "cluster/config"
	rebalanceSubpath     = "rebalance"
	coordinatorsMainPath = "coordinators/main"
)

// snapshot is the coherent (config, read ring, write ring, ownership)
// tuple readers observe. Swapped atomically as a single unit so no
// reader ever mixes fields from two different refreshes.
type snapshot struct {
	config    model.ClusterConfig
	writeRing ring.Ring
	readRing  ring.Ring
	owner     ownership.Map
}

// Store is the process-wide cluster config client. Construct with Open;
// call Close when done to stop the watch goroutine and the ZK session.
type Store struct {
	conn     *zk.Conn
	basePath string
	logger   *zap.SugaredLogger

	current atomic.Pointer[snapshot]

	stopWatch context.CancelFunc
	doneCh    chan struct{}
}

// Options configures Open.
type Options struct {
	// SessionTimeout bounds how long Open waits for a ZK session.
	SessionTimeout time.Duration
	Logger         *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// Open connects to ZooKeeper, blocks until the session is established
// (bounded by Options.SessionTimeout), ensures the reserved paths under
// base exist, loads the current config, and starts a watch goroutine
// that reloads on every change. An empty payload at <base>/cluster/config
// is treated as an empty cluster config.
func Open(ctx context.Context, endpoints []string, base string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	conn, events, err := zk.Connect(endpoints, opts.SessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("clusterconfig: connect: %w", err)
	}

	if err := waitForSession(ctx, events, opts.SessionTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	s := &Store{conn: conn, basePath: base, logger: opts.Logger}
	if err := s.ensurePaths(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := s.reload(); err != nil {
		// A failed initial parse still yields a usable (empty) store;
		// log and continue per the store's failure policy.
		s.logger.Warnw("clusterconfig: initial load failed, starting empty", "error", err)
		s.current.Store(s.buildSnapshot(model.ClusterConfig{}))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.doneCh = make(chan struct{})
	go s.watchLoop(watchCtx)

	return s, nil
}

func waitForSession(ctx context.Context, events <-chan zk.Event, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return nil
			}
		case <-deadline:
			return errors.New("clusterconfig: timed out waiting for zookeeper session")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) ensurePaths() error {
	for _, p := range []string{
		s.basePath,
		s.basePath + "/cluster",
		s.basePath + "/" + configSubpath,
		s.basePath + "/" + rebalanceSubpath,
		s.basePath + "/coordinators",
		s.basePath + "/" + coordinatorsMainPath,
	} {
		if err := s.createIfAbsent(p); err != nil {
			return fmt.Errorf("clusterconfig: ensure path %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) createIfAbsent(path string) error {
	exists, _, err := s.conn.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return err
	}
	return nil
}

// watchLoop re-registers a ZK watch on the config path and reloads on
// every fire. On session loss it reconnects with exponential backoff
// (per the store's failure policy) while continuing to serve the last
// known snapshot to readers.
func (s *Store) watchLoop(ctx context.Context) {
	defer close(s.doneCh)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry indefinitely; readers keep the last good snapshot

	for {
		_, _, events, err := s.conn.GetW(s.basePath + "/" + configSubpath)
		if err != nil {
			wait := bo.NextBackOff()
			s.logger.Warnw("clusterconfig: watch setup failed, backing off", "error", err, "wait", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		bo.Reset()

		select {
		case ev := <-events:
			if ev.Err != nil {
				s.logger.Warnw("clusterconfig: watch event error", "error", ev.Err)
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warnw("clusterconfig: reload after watch fire failed, retaining previous snapshot", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) reload() error {
	data, _, err := s.conn.Get(s.basePath + "/" + configSubpath)
	if errors.Is(err, zk.ErrNoNode) {
		s.current.Store(s.buildSnapshot(model.ClusterConfig{}))
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		s.current.Store(s.buildSnapshot(model.ClusterConfig{}))
		return nil
	}

	var cfg model.ClusterConfig
	if err := jsonAPI.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	s.current.Store(s.buildSnapshot(cfg))
	return nil
}

// buildSnapshot derives the read/write rings and ownership map for cfg.
// Two shards sharing a hash_key is forbidden; ring.New resolves the
// collision (smaller shard_id wins) and hands back the loser here so
// it can be logged rather than silently dropped.
func (s *Store) buildSnapshot(cfg model.ClusterConfig) *snapshot {
	var readable, writable []model.ShardDescriptor
	for _, sd := range cfg.Shards {
		if sd.Status.Readable() {
			readable = append(readable, sd)
		}
		if sd.Status.Writable() {
			writable = append(writable, sd)
		}
	}
	readRing, readDropped := ring.New(readable)
	writeRing, writeDropped := ring.New(writable)
	for _, sd := range readDropped {
		s.logger.Warnw("clusterconfig: dropped shard with duplicate hash_key from read ring", "shard_id", sd.ShardID, "hash_key", sd.HashKey)
	}
	for _, sd := range writeDropped {
		s.logger.Warnw("clusterconfig: dropped shard with duplicate hash_key from write ring", "shard_id", sd.ShardID, "hash_key", sd.HashKey)
	}
	return &snapshot{
		config:    cfg.Clone(),
		writeRing: writeRing,
		readRing:  readRing,
		owner:     ownership.New(writeRing),
	}
}

// Current returns the latest successfully parsed config.
func (s *Store) Current() model.ClusterConfig {
	return s.snap().config
}

// ReadRing returns the ring of shards whose status is ACTIVE or
// DRAINING, matching the config the most recent successful reload saw.
func (s *Store) ReadRing() ring.Ring {
	return s.snap().readRing
}

// WriteRing returns the ring of shards whose status is NEW or ACTIVE.
func (s *Store) WriteRing() ring.Ring {
	return s.snap().writeRing
}

// Shards returns all readable shard descriptors in ring order.
func (s *Store) Shards() []model.ShardDescriptor {
	return s.snap().readRing.Shards()
}

// Owner returns the ownership map derived from the write ring, matching
// the same refresh as WriteRing — callers that need both should read
// them from the same snap() call via RouterSnapshot rather than calling
// WriteRing and Owner separately, to avoid straddling two refreshes.
func (s *Store) Owner() ownership.Map {
	return s.snap().owner
}

// RouterSnapshot returns the coherent (write ring, read ring, ownership)
// tuple package router needs for one routing decision.
func (s *Store) RouterSnapshot() router.Snapshot {
	snap := s.snap()
	return router.Snapshot{WriteRing: snap.writeRing, ReadRing: snap.readRing, Owner: snap.owner}
}

func (s *Store) snap() *snapshot {
	snap := s.current.Load()
	if snap == nil {
		return s.buildSnapshot(model.ClusterConfig{})
	}
	return snap
}

// Update overwrites the config at <base>/cluster/config. There is no
// optimistic CAS: writes are single-writer, gated by the control
// surface (C9), and the operator is expected to serialize config
// changes. Update does not wait for the watch to fire locally: it
// reloads the in-process snapshot itself after the write, so
// Current/ReadRing/WriteRing reflect the new config as soon as Update
// returns.
func (s *Store) Update(ctx context.Context, cfg model.ClusterConfig) error {
	data, err := jsonAPI.Marshal(cfg)
	if err != nil {
		return vderr.Wrap("clusterconfig.Update", vderr.InvalidConfig, err)
	}

	path := s.basePath + "/" + configSubpath
	exists, stat, err := s.conn.Exists(path)
	if err != nil {
		return vderr.Wrap("clusterconfig.Update", vderr.Internal, err)
	}
	if !exists {
		if _, err := s.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll)); err != nil {
			return vderr.Wrap("clusterconfig.Update", vderr.Internal, err)
		}
	} else {
		if _, err := s.conn.Set(path, data, stat.Version); err != nil {
			return vderr.Wrap("clusterconfig.Update", vderr.Internal, err)
		}
	}

	// Reload synchronously so the writer's own snapshot is current even
	// before its watch fires: Current() must reflect a just-applied
	// config immediately after Update returns.
	return s.reload()
}

// Close stops the watch goroutine and closes the ZooKeeper session.
func (s *Store) Close() error {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}
	s.conn.Close()
	return nil
}
