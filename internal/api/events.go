package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TTT3216/ic2/internal/engine"
	"github.com/TTT3216/ic2/internal/model"
)

// doneEvent is the payload of the single "done" SSE event.
type doneEvent struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Artifacts int    `json:"artifacts"`
}

func newDoneEvent(rec model.TaskRecord) doneEvent {
	ev := doneEvent{TaskID: rec.ID, Status: rec.Status}
	if rec.Outcome != nil {
		ev.Message = rec.Outcome.Message
		ev.Error = rec.Outcome.Reason
		ev.TimedOut = rec.Outcome.TimedOut
		ev.Artifacts = len(rec.Outcome.Artifacts)
	}
	return ev
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.engine.Query(id)
	if errors.Is(err, engine.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task for events", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if model.IsTerminal(rec.Status) {
		w.WriteHeader(http.StatusOK)
		_ = s.writeDone(w, rec)
		flush()
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// A task that finished between the query above and this call yields a
	// closed channel, handled by re-querying below.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()
	eventStreamsOpen.Inc()
	defer eventStreamsOpen.Dec()

	w.WriteHeader(http.StatusOK)
	flush()

	ticker := time.NewTicker(s.eventPoll)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				// Closed without an event: already published or evicted.
				latest, err := s.engine.Query(id)
				if err != nil {
					_ = writeSSEEvent(w, "error", "task no longer available")
					flush()
					return
				}
				rec = latest
			}
			_ = s.writeDone(w, rec)
			flush()
			return
		case <-ticker.C:
			// Status queries drive timeout expiry, so poll while waiting.
			latest, err := s.engine.Query(id)
			if err != nil {
				_ = writeSSEEvent(w, "error", "task no longer available")
				flush()
				return
			}
			if model.IsTerminal(latest.Status) {
				_ = s.writeDone(w, latest)
				flush()
				return
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeDone(w http.ResponseWriter, rec model.TaskRecord) error {
	data, err := json.Marshal(newDoneEvent(rec))
	if err != nil {
		s.logger.Error("encode done event", "task_id", rec.ID, "error", err)
		return err
	}
	return writeSSEEvent(w, "done", string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
