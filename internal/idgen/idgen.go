// Package idgen produces vector ids. Ids are drawn uniformly from
// [2^32, 2^63-1] so that (a) collisions within a database
// are effectively impossible at target scale, and (b) hash(id) spreads
// uniformly over the ring. The generator is deliberately not monotonic —
// monotone ids would concentrate on one shard.
package idgen

import (
	crand "crypto/rand"
	"math/rand/v2"
	"sync"
)

const (
	minID int64 = 1 << 32
	maxID int64 = (1 << 63) - 1
)

// Generator draws positive 64-bit vector ids. The zero value is not
// usable; construct with New.
type Generator struct {
	rng *rand.Rand
	mu  sync.Mutex
}

// New creates a Generator seeded from crypto/rand and backed by
// rand/v2's ChaCha8 source. The source itself is not goroutine-safe, so
// Next serializes draws with an internal mutex.
func New() *Generator {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	return &Generator{rng: rand.New(rand.NewChaCha8(seed))}
}

// Next returns a uniformly random id in [2^32, 2^63-1].
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	span := uint64(maxID-minID) + 1
	return minID + int64(g.rng.Uint64N(span))
}
