package util

import (
	"context"
	"sync"
)

// Barrier is a reusable synchronization point for a fixed number of
// participants. All participants must arrive before any proceeds. A
// wait can be broken by Abort or by context cancellation so that a
// failed peer never leaves the others parked forever.
type Barrier struct {
	mu      sync.Mutex
	total   int
	arrived int
	gen     chan struct{}
	err     error
	broken  bool
}

func NewBarrier(total int) *Barrier {
	AssertFunc(total > 0)
	return &Barrier{
		total: total,
		gen:   make(chan struct{}),
	}
}

// Wait blocks until all participants arrive. The last arriver is the
// leader and returns first. If the barrier was aborted, every waiter
// (current and future) returns the abort error.
func (b *Barrier) Wait(ctx context.Context) (leader bool, err error) {
	b.mu.Lock()
	if b.broken {
		err = b.err
		b.mu.Unlock()
		return false, err
	}
	b.arrived++
	if b.arrived == b.total {
		b.arrived = 0
		release := b.gen
		b.gen = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return true, nil
	}
	release := b.gen
	b.mu.Unlock()

	select {
	case <-release:
		b.mu.Lock()
		err = b.err
		b.mu.Unlock()
		return false, err
	case <-ctx.Done():
		b.Abort(ctx.Err())
		return false, ctx.Err()
	}
}

// Abort wakes all current waiters with err and fails all future waits.
// The first abort wins.
func (b *Barrier) Abort(err error) {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return
	}
	b.broken = true
	b.err = err
	b.arrived = 0
	release := b.gen
	b.gen = make(chan struct{})
	b.mu.Unlock()
	close(release)
	// future waiters fail fast on the broken flag
}
