package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/TTT3216/ic2/internal/work"
)

// Common errors returned by the Pool.
var (
	ErrQueueFull  = errors.New("work queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrWorkFault  = errors.New("work fault")
)

// minWorkers is the floor applied to the default worker count.
const minWorkers = 2

// WorkItem is one unit of work: the kind selects the work function and
// Input is handed to it verbatim.
type WorkItem struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	Input  []byte `json:"input"`
}

// Executor runs a single work item to completion.
type Executor interface {
	Execute(ctx context.Context, item WorkItem) (work.Output, error)
}

// Config holds configuration options for the pool.
type Config struct {
	// Workers is the number of items executed concurrently.
	// If zero or negative, DefaultWorkers is used.
	Workers int

	// QueueSize bounds how many items may wait for a worker.
	// If zero or negative, Workers is used.
	QueueSize int
}

// DefaultWorkers returns the host parallelism, but at least 2.
func DefaultWorkers() int {
	return max(runtime.NumCPU(), minWorkers)
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   DefaultWorkers(),
		QueueSize: 256,
	}
}

type job struct {
	item   WorkItem
	handle *Handle
}

// Pool executes work items on a fixed set of worker goroutines.
type Pool struct {
	exec    Executor
	workers int
	logger  *slog.Logger

	// mu guards closed and sends on queue, so Close never races a Submit.
	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool and starts its workers.
func New(cfg Config, exec Executor, logger *slog.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.Workers,
			"default_count", workers)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		exec:    exec,
		workers: workers,
		logger:  logger,
		queue:   make(chan job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("worker pool started", "workers", workers, "queue_size", queueSize)
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit enqueues item and returns immediately. It fails with ErrQueueFull
// when every queue slot is taken and ErrPoolClosed after Close.
func (p *Pool) Submit(item WorkItem) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		rejectedTotal.Inc()
		return nil, ErrPoolClosed
	}

	h := newHandle(p.logger)
	select {
	case p.queue <- job{item: item, handle: h}:
		queueDepth.Inc()
		p.logger.Debug("work item enqueued",
			"task_id", item.TaskID,
			"kind", item.Kind,
			"queue_len", len(p.queue),
			"queue_cap", cap(p.queue))
		return h, nil
	default:
		rejectedTotal.Inc()
		return nil, fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(p.queue))
	}
}

// Close stops accepting work and waits for queued and running items to
// finish. If ctx expires first, running executions are cancelled and Close
// returns ctx.Err() once the workers have exited.
func (p *Pool) Close(ctx context.Context) error {
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
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// worker drains the queue until it is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)
	for j := range p.queue {
		queueDepth.Dec()
		p.run(j, id)
	}
	p.logger.Debug("task queue closed, stopping worker", "worker_id", id)
}

// run executes one job. The handle is always completed, also when the
// executor panics.
func (p *Pool) run(j job, workerID int) {
	logger := p.logger.With(
		"task_id", j.item.TaskID,
		"kind", j.item.Kind,
		"worker_id", workerID,
	)

	busyWorkers.Inc()
	start := time.Now()
	var res Result
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{Err: fmt.Errorf("%w: panic: %v", ErrWorkFault, rec)}
		}
		busyWorkers.Dec()

		label := resultOK
		if res.Err != nil {
			label = resultError
			logger.Warn("work item failed", "error", res.Err)
		} else {
			logger.Debug("work item finished", "duration_ms", time.Since(start).Milliseconds())
		}
		executionDuration.WithLabelValues(j.item.Kind, label).Observe(time.Since(start).Seconds())

		j.handle.complete(res)
	}()

	out, err := p.exec.Execute(p.ctx, j.item)
	res = Result{Output: out, Err: err}
}
