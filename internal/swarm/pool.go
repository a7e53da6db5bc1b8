package swarm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of worker invocations in flight at once.
// A single Pool is shared by every batch a Dispatcher runs, so hybrid
// rounds and concurrent pipelines never exceed the configured limit.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run acquires a slot, runs fn, and releases the slot. It returns
// ctx.Err() without running fn if the context ends while waiting.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}

func (p *Pool) Limit() int {
	return p.limit
}
