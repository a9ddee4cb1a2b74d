package parley

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// processGate bounds the number of concurrent pipeline runs across all
// rooms. A nil gate admits everything.
type processGate struct {
	sem *semaphore.Weighted
}

func newProcessGate(max int64) *processGate {
	if max <= 0 {
		return nil
	}
	return &processGate{sem: semaphore.NewWeighted(max)}
}

// acquire blocks until a slot is free or ctx is done.
func (g *processGate) acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g.sem.Acquire(ctx, 1)
}

func (g *processGate) release() {
	if g == nil {
		return
	}
	g.sem.Release(1)
}
