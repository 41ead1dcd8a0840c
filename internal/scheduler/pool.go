package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// PoolMetrics counts the outcome of the tasks run by a pool.
type PoolMetrics struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// pool runs tasks with bounded concurrency. Go blocks while the pool is
// full and gives up when ctx ends.
type pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	return &pool{sem: make(chan struct{}, size)}
}

func (p *pool) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
			}
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()
	return nil
}

// Wait blocks until every task started with Go has returned.
func (p *pool) Wait() PoolMetrics {
	p.wg.Wait()
	return PoolMetrics{
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
