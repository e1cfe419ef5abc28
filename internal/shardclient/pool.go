package shardclient

import (
	"sync"

	"github.com/dreamware/vectorshard/internal/obs"
)

// Pool is a concurrent, insert-or-get map from shard id to Client. One
// Pool is shared process-wide; Get is idempotent so concurrent callers
// racing to create the same shard's client never allocate twice.
type Pool struct {
	metrics *obs.Metrics

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates an empty pool. metrics may be nil.
func NewPool(metrics *obs.Metrics) *Pool {
	return &Pool{metrics: metrics, clients: make(map[string]*Client)}
}

// Get returns the cached client for shardID if baseURL hasn't changed,
// otherwise (re)creates it. A shard's baseURL changing is rare (shard
// replacement) but must not leave callers pinned to a stale address.
func (p *Pool) Get(shardID, baseURL string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[shardID]; ok && c.BaseURL == baseURL {
		return c
	}
	c := New(shardID, baseURL, p.metrics)
	p.clients[shardID] = c
	return c
}

// Evict removes a shard's client, e.g. after DECOMMISSIONED. A later
// Get recreates it if the shard ever returns.
func (p *Pool) Evict(shardID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, shardID)
}

// Len reports how many clients are currently pooled, for tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
