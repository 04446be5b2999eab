package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TTT3216/ic2/internal/model"
)

// Registry errors.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Mutation edits a task record in place. It runs under the registry lock
// and must not block.
type Mutation func(rec *model.TaskRecord)

// Predicate inspects the current state of a record under the registry lock.
type Predicate func(rec model.TaskRecord) bool

// Registry is the single source of truth for task state. Every read and
// write holds one mutex for the whole map; callers only ever see copies.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[string]*model.TaskRecord
}

// NewRegistry creates an empty registry. A nil now uses time.Now.
func NewRegistry(logger *slog.Logger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		logger: logger,
		now:    now,
		tasks:  make(map[string]*model.TaskRecord),
	}
}

// Create inserts a new processing record of the given kind and returns its id.
func (r *Registry) Create(kind string) string {
	rec := &model.TaskRecord{
		Kind:        kind,
		Status:      model.StatusProcessing,
		SubmittedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		rec.ID = model.NewID()
		if _, taken := r.tasks[rec.ID]; !taken {
			break
		}
	}
	r.tasks[rec.ID] = rec
	return rec.ID
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id string) (model.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok {
		return model.TaskRecord{}, ErrTaskNotFound
	}
	return rec.Clone(), nil
}

// Update applies m to the record for id. An unknown id, or a mutation that
// would break the status state machine, is logged and ignored; the boolean
// reports whether the mutation was stored. The returned record is the state
// after the call.
func (r *Registry) Update(id string, m Mutation) (model.TaskRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok {
		r.logger.Warn("update for unknown task ignored", "task_id", id)
		return model.TaskRecord{}, false
	}

	next, err := apply(cur, m, r.now)
	if err != nil {
		r.logger.Info("task update rejected", "task_id", id, "error", err)
		return cur.Clone(), false
	}
	r.tasks[id] = next
	return next.Clone(), true
}

// MutateIf applies m only if pred holds for the current record, checking and
// writing under a single lock acquisition. It returns the state after the
// call and whether m was applied.
func (r *Registry) MutateIf(id string, pred Predicate, m Mutation) (model.TaskRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok {
		return model.TaskRecord{}, false, ErrTaskNotFound
	}
	if !pred(cur.Clone()) {
		return cur.Clone(), false, nil
	}

	next, err := apply(cur, m, r.now)
	if err != nil {
		return cur.Clone(), false, err
	}
	r.tasks[id] = next
	return next.Clone(), true, nil
}

// Reset removes the record for id. It is an administrative operation and
// not reachable from client endpoints.
func (r *Registry) Reset(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	return true
}

// MarkRetrieved stamps the first retrieval time of a terminal record.
// Processing records and already stamped records are left untouched.
func (r *Registry) MarkRetrieved(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[id]
	if !ok || !model.IsTerminal(rec.Status) || rec.RetrievedAt != nil {
		return
	}
	t := at.UTC()
	rec.RetrievedAt = &t
}

// Sweep evicts terminal records whose retention has lapsed: retrieved
// records once retention has passed since retrieval, unretrieved ones once
// it has passed since they finished. Processing records are never evicted.
// It returns the evicted ids.
func (r *Registry) Sweep(now time.Time, retention time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rec := range r.tasks {
		if !model.IsTerminal(rec.Status) {
			continue
		}
		since := rec.FinishedAt
		if rec.RetrievedAt != nil {
			since = rec.RetrievedAt
		}
		if since != nil && now.Sub(*since) > retention {
			delete(r.tasks, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of records held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// CountByStatus returns the number of records in each status.
func (r *Registry) CountByStatus() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[string]int{
		model.StatusProcessing: 0,
		model.StatusCompleted:  0,
		model.StatusFailed:     0,
	}
	for _, rec := range r.tasks {
		counts[rec.Status]++
	}
	return counts
}

// apply runs m on a copy of cur and validates the result. Identity fields
// are immutable, status changes must follow model.ValidTransition, and a
// terminal record can only gain a retrieval stamp.
func apply(cur *model.TaskRecord, m Mutation, now func() time.Time) (*model.TaskRecord, error) {
	next := cur.Clone()
	m(&next)

	if model.IsTerminal(cur.Status) {
		if next.Status != cur.Status {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
		}
		keep := cur.Clone()
		keep.RetrievedAt = next.RetrievedAt
		return &keep, nil
	}

	next.ID, next.Kind, next.SubmittedAt = cur.ID, cur.Kind, cur.SubmittedAt

	if next.Status == cur.Status {
		// Still processing: no outcome may leak in.
		next.Outcome, next.FinishedAt, next.RetrievedAt = nil, nil, nil
		return &next, nil
	}
	if !model.ValidTransition(cur.Status, next.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	if next.Outcome == nil {
		return nil, fmt.Errorf("%w: %s without outcome", ErrInvalidTransition, next.Status)
	}
	if next.FinishedAt == nil {
		t := now().UTC()
		next.FinishedAt = &t
	}
	return &next, nil
}

// finish returns a mutation moving a record to a terminal status.
func finish(status string, outcome *model.Outcome, at time.Time) Mutation {
	return func(rec *model.TaskRecord) {
		t := at.UTC()
		rec.Status = status
		rec.Outcome = outcome
		rec.FinishedAt = &t
	}
}

// isProcessing is the compare-and-set guard for timeout expiry.
func isProcessing(rec model.TaskRecord) bool {
	return rec.Status == model.StatusProcessing
}
