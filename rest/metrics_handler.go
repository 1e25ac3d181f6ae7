package rest

import (
	"net/http"
)

func (s *Server) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	windowDays := queryInt(query.Get("windowDays"), 0)
	metrics, err := s.collector.Collect(r.Context(), query.Get("agentId"), windowDays)
	if err != nil {
		respondForError(w, err)
		return
	}
	respondOK(w, metrics)
}
