package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/TTT3216/ic2/internal/archive"
	"github.com/TTT3216/ic2/internal/engine"
	"github.com/TTT3216/ic2/internal/model"
)

// taskStatusResponse is the JSON body for non-download status responses.
type taskStatusResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.engine.Retrieve(id)
	if errors.Is(err, engine.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	switch rec.Status {
	case model.StatusCompleted:
		if len(rec.Outcome.Artifacts) > 0 {
			s.writeArchive(w, rec)
			return
		}
		s.writeJSON(w, http.StatusOK, taskStatusResponse{
			Status:  rec.Status,
			Message: rec.Outcome.Message,
		})
	case model.StatusFailed:
		s.writeJSON(w, http.StatusInternalServerError, taskStatusResponse{
			Status:   rec.Status,
			Error:    rec.Outcome.Reason,
			TimedOut: rec.Outcome.TimedOut,
		})
	default:
		s.writeJSON(w, http.StatusOK, taskStatusResponse{Status: rec.Status})
	}
}

func (s *Server) writeArchive(w http.ResponseWriter, rec model.TaskRecord) {
	now := s.now()
	data, err := archive.Build(rec.Outcome.Artifacts, now)
	if err != nil {
		s.logger.Error("build archive", "task_id", rec.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": archive.DownloadName(now),
	}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write archive", "task_id", rec.ID, "error", err)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
