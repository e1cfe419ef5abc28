// Package health implements periodic reachability checks against shard
// base URLs, with consecutive-failure tracking, optional
// unhealthy/recovered transition callbacks, and an Unavailable query the
// coordinator uses to route around a down shard.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/vectorshard/internal/model"
)

// Status is the health state of a single shard, as observed by this
// process. It is local, not broadcast: two coordinators may disagree
// briefly after a shard flaps.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ShardHealth is a point-in-time snapshot of one shard's reachability.
type ShardHealth struct {
	ShardID          string
	Status           Status
	LastCheck        time.Time
	LastHealthy      time.Time
	ConsecutiveFails int
}

// Monitor performs periodic health checks on all shards in a cluster
// config and tracks consecutive-failure counts per shard. All methods
// are safe for concurrent use.
type Monitor struct {
	shards      map[string]*ShardHealth
	httpClient  *http.Client
	checkFunc   func(baseURL string) error
	onUnhealthy func(shardID string)
	onRecovered func(shardID string)
	logger      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
}

// New creates a shard health monitor that checks every interval.
// Shards are marked unhealthy after 3 consecutive failures, matching
// the coordinator's default tolerance for transient network blips.
func New(interval time.Duration, logger *zap.SugaredLogger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		shards:      make(map[string]*ShardHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy registers a callback fired exactly once each time a
// shard enters the unhealthy state (from healthy or unknown).
func (m *Monitor) SetOnUnhealthy(callback func(shardID string)) {
	m.onUnhealthy = callback
}

// SetOnRecovered registers a callback fired exactly once per
// unhealthy→healthy transition.
func (m *Monitor) SetOnRecovered(callback func(shardID string)) {
	m.onRecovered = callback
}

// SetCheckFunction overrides the default HTTP GET /health probe, for
// tests or alternate transports.
func (m *Monitor) SetCheckFunction(checkFunc func(baseURL string) error) {
	m.checkFunc = checkFunc
}

// Start runs the check loop until ctx or the monitor's own Stop fires.
// shardProvider is consulted on every tick so topology changes (added or
// decommissioned shards) take effect without restarting the monitor.
func (m *Monitor) Start(ctx context.Context, shardProvider func() []model.ShardDescriptor) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}
	if m.checkFunc == nil {
		m.checkFunc = m.defaultCheck
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Infow("health monitor started", "interval", m.interval)

	m.checkAll(shardProvider())

	for {
		select {
		case <-ticker.C:
			m.checkAll(shardProvider())
		case <-ctx.Done():
			m.logger.Info("health monitor stopping: context canceled")
			return
		case <-m.ctx.Done():
			m.logger.Info("health monitor stopping: Stop called")
			return
		}
	}
}

// Stop cancels the monitor and waits for the check loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) checkAll(shards []model.ShardDescriptor) {
	present := make(map[string]bool, len(shards))
	for _, sd := range shards {
		present[sd.ShardID] = true
		m.checkOne(sd)
	}

	m.mu.Lock()
	for id := range m.shards {
		if !present[id] {
			delete(m.shards, id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) checkOne(sd model.ShardDescriptor) {
	m.mu.Lock()
	sh, ok := m.shards[sd.ShardID]
	if !ok {
		sh = &ShardHealth{ShardID: sd.ShardID, Status: StatusUnknown, LastCheck: time.Now(), LastHealthy: time.Now()}
		m.shards[sd.ShardID] = sh
	}
	m.mu.Unlock()

	err := m.checkFunc(sd.BaseURL)

	m.mu.Lock()
	defer m.mu.Unlock()

	sh.LastCheck = time.Now()

	if err != nil {
		sh.ConsecutiveFails++
		if sh.ConsecutiveFails >= m.maxFailures {
			prev := sh.Status
			sh.Status = StatusUnhealthy
			if prev != StatusUnhealthy && m.onUnhealthy != nil {
				m.logger.Warnw("shard marked unhealthy", "shard_id", sd.ShardID, "fails", sh.ConsecutiveFails, "error", err)
				go m.onUnhealthy(sd.ShardID)
			}
		}
		return
	}

	wasUnhealthy := sh.Status == StatusUnhealthy
	sh.Status = StatusHealthy
	sh.ConsecutiveFails = 0
	sh.LastHealthy = time.Now()
	if wasUnhealthy && m.onRecovered != nil {
		m.logger.Infow("shard recovered", "shard_id", sd.ShardID)
		go m.onRecovered(sd.ShardID)
	}
}

// ReportFailure records a passive failure signal from an RPC to
// shardID. Passive failures count toward the same consecutive-failure
// threshold the prober uses; once a shard crosses it, only a successful
// probe brings it back — an isolated RPC success does not reset the
// counter, since one lucky call through a flapping shard proves little.
func (m *Monitor) ReportFailure(shardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.shards[shardID]
	if !ok {
		sh = &ShardHealth{ShardID: shardID, Status: StatusUnknown, LastCheck: time.Now(), LastHealthy: time.Now()}
		m.shards[shardID] = sh
	}
	sh.ConsecutiveFails++
	if sh.ConsecutiveFails >= m.maxFailures && sh.Status != StatusUnhealthy {
		sh.Status = StatusUnhealthy
		m.logger.Warnw("shard marked unhealthy from rpc failures", "shard_id", shardID, "fails", sh.ConsecutiveFails)
		if m.onUnhealthy != nil {
			go m.onUnhealthy(shardID)
		}
	}
}

func (m *Monitor) defaultCheck(baseURL string) error {
	url := baseURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/health"

	resp, err := m.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Get returns a copy of the current health record for shardID, or
// (ShardHealth{}, false) if it is not being monitored.
func (m *Monitor) Get(shardID string) (ShardHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sh, ok := m.shards[shardID]
	if !ok {
		return ShardHealth{}, false
	}
	return *sh, true
}

// All returns a copy of every tracked shard's health record.
func (m *Monitor) All() map[string]ShardHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ShardHealth, len(m.shards))
	for id, sh := range m.shards {
		out[id] = *sh
	}
	return out
}

// IsHealthy reports whether shardID's last check succeeded and the
// shard has not crossed the failure threshold. Unmonitored shards
// report false.
func (m *Monitor) IsHealthy(shardID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sh, ok := m.shards[shardID]
	return ok && sh.Status == StatusHealthy
}

// Unavailable reports whether shardID has been positively confirmed
// unhealthy. Unlike IsHealthy, a shard the monitor has never checked
// (Start not yet called, or the shard was just added) is optimistically
// treated as available — there is no quorum, so routing should only
// fall back to a replica once a shard has actually failed probes.
func (m *Monitor) Unavailable(shardID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sh, ok := m.shards[shardID]
	return ok && sh.Status == StatusUnhealthy
}
