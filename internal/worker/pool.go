package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrPoolShutdown is returned by Submit once Shutdown has been called
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Job is a unit of work run by the pool. It must return exactly one Result.
type Job func(ctx context.Context) Result

type submission struct {
	job    Job
	future *Future
}

// Pool runs jobs on a bounded set of goroutines. Up to CorePoolSize workers
// are started on demand and stay alive; once the queue is full, surplus
// workers up to MaximumPoolSize are started and exit after KeepAlive idle.
// When both the queue and the workers are saturated the job runs on the
// submitting goroutine.
type Pool struct {
	config PoolConfig
	ctx    context.Context
	logger *zap.Logger

	queue chan *submission

	mu       sync.Mutex
	workers  int
	shutdown bool
	nextID   int

	active   atomic.Int64
	overflow atomic.Int64
	wg       sync.WaitGroup
}

// NewPool creates a new worker pool. Jobs receive ctx; cancelling it does
// not stop the pool, Shutdown does.
func NewPool(ctx context.Context, config PoolConfig, logger *zap.Logger) (*Pool, error) {
	if config.CorePoolSize <= 0 || config.MaximumPoolSize < config.CorePoolSize {
		return nil, fmt.Errorf("invalid pool size: core=%d max=%d", config.CorePoolSize, config.MaximumPoolSize)
	}
	if config.QueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive")
	}

	return &Pool{
		config: config,
		ctx:    ctx,
		logger: logger,
		queue:  make(chan *submission, config.QueueCapacity),
	}, nil
}

// Submit schedules job and returns its future
func (p *Pool) Submit(job Job) (*Future, error) {
	sub := &submission{job: job, future: newFuture(p.logger)}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, ErrPoolShutdown
	}

	if p.workers < p.config.CorePoolSize {
		p.startWorker(sub)
		p.mu.Unlock()
		return sub.future, nil
	}

	select {
	case p.queue <- sub:
		p.mu.Unlock()
		return sub.future, nil
	default:
	}

	if p.workers < p.config.MaximumPoolSize {
		p.startWorker(sub)
		p.mu.Unlock()
		return sub.future, nil
	}
	p.mu.Unlock()

	// Queue and workers saturated: run on the caller
	p.overflow.Add(1)
	p.logger.Debug("Worker pool saturated, running job on submitting goroutine")
	p.run(sub)
	return sub.future, nil
}

// startWorker must be called with p.mu held
func (p *Pool) startWorker(first *submission) {
	id := p.nextID
	p.nextID++
	p.workers++
	p.wg.Add(1)
	go p.worker(id, first)
}

func (p *Pool) worker(id int, first *submission) {
	defer p.wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	if first != nil {
		p.run(first)
	}

	var idle *time.Timer
	if p.config.KeepAlive > 0 {
		idle = time.NewTimer(p.config.KeepAlive)
		defer idle.Stop()
	}

	for {
		var timeout <-chan time.Time
		if idle != nil {
			resetTimer(idle, p.config.KeepAlive)
			timeout = idle.C
		}

		select {
		case sub, ok := <-p.queue:
			if !ok {
				p.retire()
				logger.Debug("Worker finished - pool shut down")
				return
			}
			p.run(sub)

		case <-timeout:
			if p.retireIfSurplus() {
				logger.Debug("Worker stopped - idle")
				return
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *Pool) retireIfSurplus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workers > p.config.CorePoolSize {
		p.workers--
		return true
	}
	return false
}

func (p *Pool) run(sub *submission) {
	p.active.Add(1)
	result := p.execute(sub.job)
	p.active.Add(-1)

	sub.future.complete(result)
}

func (p *Pool) execute(job Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job panicked", zap.Any("panic", r))
			result.Err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(p.ctx)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to be done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.shutdown {
		p.shutdown = true
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
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool did not drain: %w", ctx.Err())
	}
}

// ActiveCount returns the number of jobs currently executing
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// QueueSize returns the number of jobs waiting for a worker
func (p *Pool) QueueSize() int {
	return len(p.queue)
}

// PoolSize returns the number of live workers
func (p *Pool) PoolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// CallerRuns returns how many jobs ran on the submitting goroutine
func (p *Pool) CallerRuns() int64 {
	return p.overflow.Load()
}
