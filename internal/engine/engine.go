package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TTT3216/ic2/internal/model"
	"github.com/TTT3216/ic2/internal/pool"
)

const (
	// DefaultTimeout is how long a task may stay processing before a status
	// query expires it.
	DefaultTimeout = 300 * time.Second

	// DefaultRetention is how long terminal records are kept for retrieval.
	DefaultRetention = 15 * time.Minute

	// DefaultSweepInterval is how often retention eviction runs.
	DefaultSweepInterval = time.Minute

	journalTimeout = 5 * time.Second
)

// ErrSubmissionRejected is returned when a submission carries no work or an
// unsupported kind. No task record is created.
var ErrSubmissionRejected = errors.New("submission rejected")

// Dispatcher accepts work items for asynchronous execution.
type Dispatcher interface {
	Submit(item pool.WorkItem) (*pool.Handle, error)
}

// Journal persists summaries of finished tasks.
type Journal interface {
	RecordTask(ctx context.Context, s model.TaskSummary) error
}

// FaultReporter is told about tasks whose work function failed.
type FaultReporter interface {
	ReportFault(rec model.TaskRecord, err error)
}

// Config holds the lifecycle settings, fixed for the engine's lifetime.
type Config struct {
	// Timeout bounds how long a task may stay processing. Zero or negative
	// uses DefaultTimeout.
	Timeout time.Duration

	// Retention is how long terminal records stay retrievable. Zero disables
	// eviction.
	Retention time.Duration

	// SweepInterval is how often eviction runs when Retention is set.
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with the default timeout and retention.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		Retention:     DefaultRetention,
		SweepInterval: DefaultSweepInterval,
	}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithJournal records every terminal task in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithFaultReporter reports work failures to f.
func WithFaultReporter(f FaultReporter) Option {
	return func(e *Engine) { e.faults = f }
}

// WithKinds restricts submissions to the given kinds.
func WithKinds(kinds ...string) Option {
	return func(e *Engine) {
		e.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			e.kinds[k] = true
		}
	}
}

// Engine orchestrates task submission, completion and status queries.
type Engine struct {
	registry *Registry
	pool     Dispatcher
	cfg      Config
	logger   *slog.Logger
	broker   *Broker
	journal  Journal
	faults   FaultReporter
	kinds    map[string]bool
	now      func() time.Time

	// pending tracks completion callbacks and background journal writes.
	pending sync.WaitGroup

	stopOnce sync.Once
	stop     chan struct{}
	janitor  sync.WaitGroup
}

// NewEngine creates an engine over reg that dispatches work to d.
func NewEngine(reg *Registry, d Dispatcher, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	e := &Engine{
		registry: reg,
		pool:     d,
		cfg:      cfg,
		logger:   logger,
		broker:   NewBroker(),
		now:      reg.now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Broker returns the engine's completion broker for SSE subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Registry returns the registry backing the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Timeout returns the configured task timeout.
func (e *Engine) Timeout() time.Duration {
	return e.cfg.Timeout
}

// Submit registers a processing task and hands its work to the pool. It
// returns as soon as the work is queued; the outcome is only visible through
// Query. If the pool refuses the work, the record is dropped again and the
// pool's error is returned wrapped.
func (e *Engine) Submit(ctx context.Context, kind string, input []byte) (string, error) {
	if len(input) == 0 {
		return "", fmt.Errorf("%w: no work items supplied", ErrSubmissionRejected)
	}
	if e.kinds != nil && !e.kinds[kind] {
		return "", fmt.Errorf("%w: unsupported kind %q", ErrSubmissionRejected, kind)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := e.registry.Create(kind)

	e.pending.Add(1)
	h, err := e.pool.Submit(pool.WorkItem{TaskID: id, Kind: kind, Input: input})
	if err != nil {
		e.pending.Done()
		e.registry.Reset(id)
		return "", fmt.Errorf("dispatch task: %w", err)
	}

	tasksSubmittedTotal.WithLabelValues(kind).Inc()
	workInFlight.Inc()
	h.OnComplete(func(r pool.Result) {
		e.complete(id, kind, r)
	})

	e.logger.Info("task submitted", "task_id", id, "kind", kind, "bytes", len(input))
	return id, nil
}

// Query returns the current state of a task. A task that has been
// processing longer than the timeout is first moved to failed with a
// timed-out outcome. Query never waits for work to finish.
func (e *Engine) Query(id string) (model.TaskRecord, error) {
	rec, err := e.registry.Get(id)
	if err != nil {
		return model.TaskRecord{}, err
	}
	if rec.Status != model.StatusProcessing {
		return rec, nil
	}

	now := e.now()
	if rec.Elapsed(now) <= e.cfg.Timeout {
		return rec, nil
	}

	rec, applied, err := e.registry.MutateIf(id, isProcessing, finish(model.StatusFailed, model.TimedOut(), now))
	if err != nil {
		return model.TaskRecord{}, err
	}
	if applied {
		e.logger.Warn("task timed out",
			"task_id", id,
			"kind", rec.Kind,
			"elapsed_ms", rec.Elapsed(now).Milliseconds(),
			"timeout_ms", e.cfg.Timeout.Milliseconds())
		taskTimeoutsTotal.WithLabelValues(rec.Kind).Inc()
		e.finished(rec, nil, true)
	}
	return rec, nil
}

// Retrieve is Query for a client fetching results: terminal records are
// stamped as retrieved, which starts their retention window.
func (e *Engine) Retrieve(id string) (model.TaskRecord, error) {
	rec, err := e.Query(id)
	if err != nil {
		return rec, err
	}
	if model.IsTerminal(rec.Status) {
		e.registry.MarkRetrieved(id, e.now())
	}
	return rec, nil
}

// Sweep evicts terminal records whose retention has lapsed and returns how
// many were removed. It is a no-op when retention is disabled.
func (e *Engine) Sweep() int {
	if e.cfg.Retention <= 0 {
		return 0
	}
	ids := e.registry.Sweep(e.now(), e.cfg.Retention)
	for _, id := range ids {
		e.broker.Forget(id)
	}
	if len(ids) > 0 {
		tasksEvictedTotal.Add(float64(len(ids)))
		e.logger.Debug("evicted task records", "count", len(ids))
	}
	return len(ids)
}

// Start launches the retention janitor if retention is enabled.
func (e *Engine) Start() {
	if e.cfg.Retention <= 0 {
		return
	}

	e.janitor.Add(1)
	go func() {
		defer e.janitor.Done()
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.Sweep()
			}
		}
	}()
}

// Stop halts the janitor. It does not wait for in-flight work; see Wait.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.janitor.Wait()
}

// Wait blocks until every dispatched item's completion has been handled.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// complete maps a work result onto the task record. It runs on a pool
// worker. Only a processing record takes the result; one that already timed
// out or was evicted keeps its state and the result is dropped.
func (e *Engine) complete(id, kind string, r pool.Result) {
	defer e.pending.Done()
	workInFlight.Dec()

	status, outcome := model.StatusCompleted, model.Success(r.Output.Artifacts, r.Output.Message)
	if r.Err != nil {
		status, outcome = model.StatusFailed, model.Failure(r.Err.Error())
	}

	rec, applied, err := e.registry.MutateIf(id, isProcessing, finish(status, outcome, e.now()))
	if err != nil || !applied {
		lateCompletionsTotal.Inc()
		e.logger.Info("work result discarded",
			"task_id", id,
			"kind", kind,
			"result_status", status,
			"record_status", rec.Status)
		return
	}

	if r.Err != nil {
		e.logger.Warn("task failed", "task_id", id, "kind", kind, "reason", outcome.Reason)
	} else {
		e.logger.Info("task completed",
			"task_id", id,
			"kind", kind,
			"artifacts", len(outcome.Artifacts),
			"duration_ms", rec.FinishedAt.Sub(rec.SubmittedAt).Milliseconds())
	}
	e.finished(rec, r.Err, false)
}

// finished fans a terminal record out to metrics, subscribers, the journal
// and the fault reporter. With async set the journal write happens on its
// own goroutine so a status query never waits on storage.
func (e *Engine) finished(rec model.TaskRecord, workErr error, async bool) {
	tasksFinishedTotal.WithLabelValues(rec.Kind, rec.Status).Inc()
	e.broker.Publish(rec)

	if workErr != nil && e.faults != nil {
		e.faults.ReportFault(rec, workErr)
	}

	if e.journal == nil {
		return
	}
	sum := model.Summarize(rec)
	if !async {
		e.record(sum)
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		e.record(sum)
	}()
}

func (e *Engine) record(sum model.TaskSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := e.journal.RecordTask(ctx, sum); err != nil {
		e.logger.Error("failed to journal task", "task_id", sum.ID, "error", err)
	}
}
