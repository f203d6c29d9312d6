package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adselection/internal/observability"
)

func TestPool_RunsAllTasks(t *testing.T) {
	p := New(4, 16, nil, nil)

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(100), count.Load())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const size = 3
	p := New(size, 64, nil, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(size))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	p := New(2, 4, nil, metrics)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, p.Closed())

	err := p.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, 1, metrics.PoolRejections)

	// second shutdown is a no-op
	assert.NoError(t, p.Shutdown(context.Background()))
	select {
	case <-p.Done():
	default:
		t.Fatal("expected Done to be closed after shutdown")
	}
}

func TestPool_ShutdownDrainsQueuedTasks(t *testing.T) {
	p := New(1, 10, nil, nil)

	release := make(chan struct{})
	var ran atomic.Int64
	require.NoError(t, p.Submit(context.Background(), func() { <-release; ran.Add(1) }))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { ran.Add(1) }))
	}

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, int64(6), ran.Load())
}

func TestPool_ShutdownDeadlineAbandonsQueue(t *testing.T) {
	p := New(1, 10, nil, nil)

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-release }))
	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { ran.Add(1) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	<-p.Done()
	assert.Less(t, ran.Load(), int64(5))
}

func TestPool_ShutdownReleasesBlockedSubmitter(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	p := New(1, 0, nil, metrics)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started
	defer close(release)

	submitErr := make(chan error, 1)
	go func() {
		submitErr <- p.Submit(context.Background(), func() {})
	}()
	// give the second submitter time to block on the full queue
	time.Sleep(20 * time.Millisecond)

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		shutdownErr <- p.Shutdown(ctx)
	}()

	select {
	case err := <-shutdownErr:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown ignored its deadline while a submitter was blocked")
	}

	select {
	case err := <-submitErr:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Submit was not released by Shutdown")
	}
	assert.True(t, p.Closed())
	assert.Equal(t, 1, metrics.PoolRejections)
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	p := New(1, 0, nil, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SurvivesPanickingTask(t *testing.T) {
	p := New(1, 4, nil, nil)
	defer func() { _ = p.Shutdown(context.Background()) }()

	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestInline(t *testing.T) {
	var ran bool
	require.NoError(t, Inline{}.Submit(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Inline{}.Submit(ctx, func() {}), context.Canceled)
	assert.Nil(t, Inline{}.Done())
}
