// Package workerpool is a bounded pool that runs overflow work on the
// submitting goroutine instead of rejecting it.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/amoylab/riderwatch/pkg/metrics"

	"go.uber.org/zap"
)

// Pool runs tasks on a fixed set of workers fed by a bounded queue
type Pool struct {
	logger  *zap.Logger
	name    string
	workers int
	warnAt  int
	metrics *metrics.Metrics

	mu      sync.RWMutex
	queue   chan func()
	started bool
	closed  bool
	wg      sync.WaitGroup

	callerRuns atomic.Int64
	warned     atomic.Bool
}

// New creates a pool. warnAt is the queue depth that triggers a
// back-pressure warning; zero disables it.
func New(logger *zap.Logger, name string, workers, queueSize, warnAt int, m *metrics.Metrics) *Pool {
	return &Pool{
		logger:  logger.Named("pool." + name),
		name:    name,
		workers: max(workers, 1),
		warnAt:  warnAt,
		metrics: m,
		queue:   make(chan func(), max(queueSize, 0)),
	}
}

// Start launches the workers. It is a no-op on a started or closed pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue", cap(p.queue)))
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.queue {
		p.metrics.PoolQueueDepth(p.name, len(p.queue))
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Submit queues a task. When the queue is full, or the pool is not
// running, the task runs on the caller before Submit returns.
func (p *Pool) Submit(task func()) {
	p.mu.RLock()
	if p.started && !p.closed {
		select {
		case p.queue <- task:
			depth := len(p.queue)
			p.mu.RUnlock()
			p.observe(depth)
			return
		default:
		}
	}
	p.mu.RUnlock()

	p.callerRuns.Add(1)
	p.metrics.PoolCallerRun(p.name)
	p.run(task)
}

func (p *Pool) observe(depth int) {
	p.metrics.PoolQueueDepth(p.name, depth)
	if p.warnAt <= 0 {
		return
	}
	if depth >= p.warnAt {
		if p.warned.CompareAndSwap(false, true) {
			p.logger.Warn("worker pool queue depth over threshold",
				zap.Int("depth", depth), zap.Int("threshold", p.warnAt), zap.Int("capacity", cap(p.queue)))
		}
	} else if depth < p.warnAt/2 {
		p.warned.Store(false)
	}
}

// QueueDepth returns the number of queued tasks
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// CallerRuns returns how many tasks ran on the submitting goroutine
func (p *Pool) CallerRuns() int64 {
	return p.callerRuns.Load()
}

// Shutdown stops accepting work and waits for queued tasks to finish. It
// may be called again after a context timeout to keep waiting.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
