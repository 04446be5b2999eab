// Package telemetry reports failed tasks to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/TTT3216/ic2/internal/model"
)

const moduleName = "ic2"

// Sentry captures task faults as Sentry exceptions tagged with the task id
// and kind. It satisfies engine.FaultReporter.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry creates a reporter sending to dsn.
func NewSentry(dsn, release string) (*Sentry, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sentry dsn not set")
	}
	return newSentry(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          release,
	})
}

func newSentry(opts sentry.ClientOptions) (*Sentry, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("module", moduleName)
	})
	return &Sentry{hub: hub}, nil
}

// ReportFault captures err for the failed task rec.
func (s *Sentry) ReportFault(rec model.TaskRecord, err error) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("task_id", rec.ID)
		scope.SetTag("kind", rec.Kind)
		scope.SetExtra("submitted_at", rec.SubmittedAt.Format(time.RFC3339Nano))
		if rec.Outcome != nil {
			scope.SetExtra("reason", rec.Outcome.Reason)
		}
		s.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
