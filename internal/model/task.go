package model

import (
	"bytes"
	"time"
)

// Task status constants.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Task kind constants.
const (
	KindCompress = "compress"
	KindMail     = "mail"
)

// ReasonTimedOut is the failure reason recorded when a task is expired lazily.
const ReasonTimedOut = "task timed out"

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry.
var validTransitions = map[string]map[string]bool{
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Artifact is one named result file produced by a task.
type Artifact struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Outcome is the terminal result of a task. Exactly one of the success
// fields (Artifacts, Message) or Reason is meaningful, selected by the
// status of the owning record.
type Outcome struct {
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Message   string     `json:"message,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	TimedOut  bool       `json:"timed_out,omitempty"`
}

// Success builds a successful outcome.
func Success(artifacts []Artifact, message string) *Outcome {
	return &Outcome{Artifacts: CloneArtifacts(artifacts), Message: message}
}

// Failure builds a failed outcome with a human-readable reason.
func Failure(reason string) *Outcome {
	return &Outcome{Reason: reason}
}

// TimedOut builds the outcome of a lazily expired task.
func TimedOut() *Outcome {
	return &Outcome{Reason: ReasonTimedOut, TimedOut: true}
}

// Clone returns a deep copy of o.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	c.Artifacts = CloneArtifacts(o.Artifacts)
	return &c
}

// CloneArtifacts deep-copies a slice of artifacts, including their data.
func CloneArtifacts(in []Artifact) []Artifact {
	if in == nil {
		return nil
	}
	out := make([]Artifact, len(in))
	for i, a := range in {
		out[i] = Artifact{Name: a.Name, Data: bytes.Clone(a.Data)}
	}
	return out
}

// TaskRecord is the in-memory record of one submitted task.
type TaskRecord struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
}

// Clone returns a deep copy of r that shares no memory with it.
func (r *TaskRecord) Clone() TaskRecord {
	c := *r
	c.Outcome = r.Outcome.Clone()
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.RetrievedAt != nil {
		t := *r.RetrievedAt
		c.RetrievedAt = &t
	}
	return c
}

// Elapsed returns how long the task has existed as of now.
func (r *TaskRecord) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.SubmittedAt)
}

// TaskSummary is the persisted, artifact-free view of a finished task.
type TaskSummary struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	TimedOut    bool      `json:"timed_out"`
	Artifacts   int       `json:"artifacts"`
	DurationMS  int       `json:"duration_ms"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Summarize builds a TaskSummary from a terminal record.
func Summarize(r TaskRecord) TaskSummary {
	s := TaskSummary{
		ID:          r.ID,
		Kind:        r.Kind,
		Status:      r.Status,
		SubmittedAt: r.SubmittedAt,
	}
	if r.FinishedAt != nil {
		s.FinishedAt = *r.FinishedAt
		s.DurationMS = int(r.FinishedAt.Sub(r.SubmittedAt).Milliseconds())
	}
	if r.Outcome != nil {
		s.Reason = r.Outcome.Reason
		s.TimedOut = r.Outcome.TimedOut
		s.Artifacts = len(r.Outcome.Artifacts)
	}
	return s
}
