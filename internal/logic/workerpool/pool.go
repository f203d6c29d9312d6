package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/observability"
)

// DefaultSize is the number of workers used when a non-positive size is requested.
const DefaultSize = 10

// ErrPoolClosed is returned for submissions made after Shutdown, and to
// callers whose work was abandoned because the pool terminated.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Executor runs submitted tasks. Done is closed once the executor can no
// longer run anything, so callers waiting on task results can stop waiting.
type Executor interface {
	Submit(ctx context.Context, task func()) error
	Done() <-chan struct{}
}

// Pool is a fixed-size set of goroutines consuming a shared task queue.
//
// A Pool is meant to be created once at process start and shared by every
// caller, then released with Shutdown:
//
//	pool := workerpool.New(10, 1024, logger, metrics)
//	defer pool.Shutdown(ctx)
//
//	if err := pool.Submit(ctx, func() { ... }); err != nil {
//	    // ErrPoolClosed or ctx.Err()
//	}
//
// Submit is safe for concurrent use.
type Pool struct {
	size    int
	tasks   chan func()
	mu      sync.RWMutex // guards closed and the close of tasks
	closed  bool
	quit    chan struct{} // closed when Shutdown begins
	abort   chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	quitOnce  sync.Once
	closeOnce sync.Once
	abortOnce sync.Once
}

var _ Executor = (*Pool)(nil)

// New starts a pool with size workers and a queue holding up to queueSize
// pending tasks. Submit blocks while the queue is full.
func New(size, queueSize int, logger *zap.Logger, metrics observability.MetricsRegistry) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}

	p := &Pool{
		size:    size,
		tasks:   make(chan func(), queueSize),
		quit:    make(chan struct{}),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit queues task for execution. It returns ErrPoolClosed after Shutdown
// has begun, including to callers already waiting for queue space, or
// ctx.Err() if ctx ends while waiting.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return errors.New("workerpool: nil task")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.IncrementPoolRejections()
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.metrics.SetPoolQueueDepth(len(p.tasks))
		return nil
	case <-p.quit:
		p.metrics.IncrementPoolRejections()
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed after every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Shutdown stops accepting tasks and waits for queued tasks to drain. If ctx
// ends first, workers stop picking up queued tasks and the remainder is
// dropped; callers waiting on dropped work observe Done and fail with
// ErrPoolClosed. Shutdown is idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	// releases submitters blocked on a full queue so the lock below is free
	p.quitOnce.Do(func() { close(p.quit) })
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})

	select {
	case <-p.done:
		p.logger.Info("worker pool drained", zap.Int("workers", p.size))
		return nil
	case <-ctx.Done():
		p.abortOnce.Do(func() { close(p.abort) })
		p.logger.Warn("worker pool shutdown deadline exceeded, abandoning queued tasks",
			zap.Int("queued", len(p.tasks)))
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		// abort takes priority over queued work
		select {
		case <-p.abort:
			return
		default:
		}
		select {
		case <-p.abort:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

// run executes a task, keeping the worker alive if the task panics.
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker pool task panicked", zap.Any("panic", r))
		}
	}()
	p.metrics.SetPoolQueueDepth(len(p.tasks))
	task()
}

// Inline runs every task synchronously on the submitting goroutine. It is a
// drop-in Executor for tests and single-threaded tools.
type Inline struct{}

var _ Executor = Inline{}

// Submit runs task immediately unless ctx is already done.
func (Inline) Submit(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task()
	return nil
}

// Done returns a nil channel; an Inline executor never terminates.
func (Inline) Done() <-chan struct{} {
	return nil
}
