package suggest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vango-go/callcoach/pkg/core"
)

// Pool runs jobs on at most a fixed number of goroutines. Admission waits at most the
// admission timeout; jobs are never queued beyond that.
type Pool struct {
	sem       *semaphore.Weighted
	size      int64
	admission time.Duration
	wg        sync.WaitGroup
}

// NewPool returns a pool with the given worker count. A zero admission timeout
// rejects immediately when every worker is busy.
func NewPool(workers int, admission time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		sem:       semaphore.NewWeighted(int64(workers)),
		size:      int64(workers),
		admission: admission,
	}
}

// Submit starts job on a free worker, waiting up to the admission timeout for one.
// It returns an overloaded error when no worker frees up in time, and ctx's error
// when ctx ends first.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	if p.admission <= 0 {
		if !p.sem.TryAcquire(1) {
			return core.NewOverloadedError(fmt.Sprintf("all %d guidance workers busy", p.size))
		}
	} else {
		actx, cancel := context.WithTimeout(ctx, p.admission)
		err := p.sem.Acquire(actx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return core.NewOverloadedError(fmt.Sprintf("no guidance worker free within %s", p.admission))
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		job()
	}()
	return nil
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return int(p.size)
}

// Wait blocks until every started job has returned or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
