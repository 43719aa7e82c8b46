// Package workpool provides bounded, FIFO worker pools that cap how many
// external processes run at once.
package workpool

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most Size concurrent jobs. Waiters are admitted in the order
// they arrived.
type Pool struct {
	name    string
	size    int
	sem     *semaphore.Weighted
	active  atomic.Int64
	waiting atomic.Int64
}

// New creates a pool. A size of zero or less means runtime.NumCPU().
func New(name string, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		name: name,
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Name returns the pool name used in logs.
func (p *Pool) Name() string { return p.name }

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Active returns the number of jobs currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Waiting returns the number of jobs queued for a slot.
func (p *Pool) Waiting() int { return int(p.waiting.Load()) }

// Do runs fn once a slot is free. It returns ctx.Err() if ctx is done before a
// slot becomes available; fn is not called in that case.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("%s pool: %w", p.name, err)
	}
	defer p.sem.Release(1)

	p.active.Add(1)
	defer p.active.Add(-1)

	return fn(ctx)
}

// Run is Do for jobs that produce a value.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
