package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsInRange(t *testing.T) {
	g := New()
	for i := 0; i < 1000; i++ {
		id := g.Next()
		assert.GreaterOrEqual(t, id, minID)
		assert.LessOrEqual(t, id, maxID)
		assert.Positive(t, id)
	}
}

func TestNextIsNotMonotonic(t *testing.T) {
	g := New()
	increasing := true
	prev := g.Next()
	for i := 0; i < 50; i++ {
		next := g.Next()
		if next < prev {
			increasing = false
			break
		}
		prev = next
	}
	assert.False(t, increasing, "51 draws should not be monotonically increasing")
}

func TestNextIsSafeForConcurrentUse(t *testing.T) {
	g := New()
	seen := make(chan int64, 200)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.Next()
		}()
	}
	wg.Wait()
	close(seen)

	uniq := make(map[int64]struct{})
	for id := range seen {
		uniq[id] = struct{}{}
	}
	assert.Greater(t, len(uniq), 190, "collisions should be vanishingly rare at this scale")
}
