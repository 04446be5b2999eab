package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Tasks  int    `json:"tasks"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Tasks:  s.engine.Registry().Len(),
	})
}
