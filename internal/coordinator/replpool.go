package coordinator

import (
	"golang.org/x/sync/semaphore"
)

// replPool runs replication and read-repair tasks off the request
// path. It is a bounded worker pool with a caller-runs overflow policy:
// when every slot is busy, the task runs synchronously on the calling
// goroutine rather than queuing unboundedly. This backpressures the
// hot path under extreme replica lag instead of growing memory without
// limit.
type replPool struct {
	sem *semaphore.Weighted
	// depth is an approximate in-flight counter surfaced via obs.Metrics;
	// it is not used for admission control, only observability.
	depth func(delta int)
}

func newReplPool(capacity int64, depth func(delta int)) *replPool {
	if depth == nil {
		depth = func(int) {}
	}
	return &replPool{sem: semaphore.NewWeighted(capacity), depth: depth}
}

// Go runs fn asynchronously if a slot is free, else synchronously on
// the calling goroutine.
func (p *replPool) Go(fn func()) {
	if p.sem.TryAcquire(1) {
		p.depth(1)
		go func() {
			defer func() {
				p.sem.Release(1)
				p.depth(-1)
			}()
			fn()
		}()
		return
	}
	fn()
}
