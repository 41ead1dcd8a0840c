package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := newPool(3)
	var active, peak int64

	for range 20 {
		require.NoError(t, p.Go(context.Background(), func(context.Context) error {
			n := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&active, -1)
			return nil
		}))
	}

	m := p.Wait()
	assert.Equal(t, int64(20), m.Completed)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
}

func TestPool_CountsFailuresAndPanics(t *testing.T) {
	p := newPool(2)
	ctx := context.Background()

	require.NoError(t, p.Go(ctx, func(context.Context) error { return nil }))
	require.NoError(t, p.Go(ctx, func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, p.Go(ctx, func(context.Context) error { panic("bad") }))

	m := p.Wait()
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, int64(1), m.Panics)
}

func TestPool_ZeroSizeDefaultsToOne(t *testing.T) {
	p := newPool(0)
	assert.Equal(t, 1, cap(p.sem))
}

func TestPool_GoRespectsContextWhenFull(t *testing.T) {
	p := newPool(1)
	release := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Go(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Equal(t, int64(1), p.Wait().Completed)
}
