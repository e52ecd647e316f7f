package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by Pool.Submit.
var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("worker pool queue is full")
)

// Job is a unit of background work. The context is cancelled when the pool
// shuts down; jobs are expected to honor it at their own checkpoints.
type Job func(ctx context.Context)

// Pool is a bounded worker pool with a buffered submission queue. Excess
// submissions queue in FIFO order; a full queue rejects the submission
// rather than blocking the caller.
type Pool struct {
	name    string
	workers int
	jobs    chan Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

// NewPool creates a worker pool with the given parallelism and queue size.
// Invalid sizes fall back to 1.
func NewPool(name string, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"pool", name,
			"specified_count", workers,
			"default_count", 1)
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		name:    name,
		workers: workers,
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "worker_pool", "pool", name),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue_cap", cap(p.jobs))
}

// Submit adds a job to the queue for processing.
// Returns an error if the queue is full or the pool is closed.
//
// The mutex is held across the closed check and the enqueue so a submit
// racing Stop can never send on the closed job channel. The send is
// non-blocking, so the lock is never held while waiting.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("job enqueued",
			"queue_len", len(p.jobs),
			"queue_cap", cap(p.jobs))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(p.jobs))
	}
}

// Stop cancels the pool context and waits for in-flight jobs to return.
// Queued jobs that have not started are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// QueueDepth returns the number of jobs waiting in the submission queue.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

// worker drains the job queue until the pool shuts down.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		case job, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("job channel closed, stopping worker", "worker_id", id)
				return
			}
			p.runJob(job, id)
		}
	}
}

// runJob executes a single job, recovering panics so one bad job cannot
// take down the worker.
func (p *Pool) runJob(job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"worker_id", workerID,
				"panic", r)
		}
	}()
	job(p.ctx)
}
