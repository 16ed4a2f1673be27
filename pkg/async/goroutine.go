package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/socketgate/pkg/observability"
)

// ErrPoolClosed is returned when submitting to a pool that has shut down
var ErrPoolClosed = errors.New("worker pool shut down")

// ErrPoolFull is returned by TrySubmit when the queue has no free slot
var ErrPoolFull = errors.New("worker pool queue full")

// Task is a unit of background work
type Task func(context.Context) error

// SafeGo runs fn in a goroutine bounded by timeout. Panics and errors are
// logged, never propagated.
//
//	async.SafeGo(ctx, logger, 5*time.Second, "audit publish", func(ctx context.Context) error {
//	    return publisher.Publish(ctx, event)
//	})
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, name string, fn Task) {
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, name)

		if err := fn(ctx); err != nil && logger != nil {
			logger.WithError(err).WithField("task", name).Warn("background task failed")
		}
	}()
}

// WorkerPool runs tasks on a fixed set of goroutines fed by a bounded queue
type WorkerPool struct {
	name    string
	timeout time.Duration
	logger  *observability.Logger
	onError func(error)

	mu     sync.RWMutex
	closed bool
	queue  chan Task

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// PoolOption configures a WorkerPool
type PoolOption func(*WorkerPool)

// WithErrorHandler installs a callback for task errors and panics
func WithErrorHandler(fn func(error)) PoolOption {
	return func(p *WorkerPool) { p.onError = fn }
}

// WithQueueSize overrides the default queue length of workers*16
func WithQueueSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.queue = make(chan Task, n)
		}
	}
}

// NewWorkerPool starts workers goroutines. Each task runs with its own
// timeout derived from ctx.
func NewWorkerPool(ctx context.Context, logger *observability.Logger, workers int, name string, timeout time.Duration, opts ...PoolOption) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		name:    name,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan Task, workers*16),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues a task, blocking while the queue is full
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues a task without blocking. A full queue drops the task.
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		return nil
	default:
		p.dropped.Add(1)
		return ErrPoolFull
	}
}

// Dropped reports how many tasks TrySubmit rejected
func (p *WorkerPool) Dropped() int64 {
	return p.dropped.Load()
}

// Shutdown stops accepting tasks and drains the queue. Workers still busy
// when ctx ends are cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *WorkerPool) run(task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer observability.RecoverPanicWithCallback(p.logger, p.name, func(r interface{}) {
		p.report(observability.PanicError(r))
	})

	if err := task(ctx); err != nil {
		if p.logger != nil {
			p.logger.WithError(err).WithField("pool", p.name).Debug("task failed")
		}
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
