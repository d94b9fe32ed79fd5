package routes

import (
	"errors"
	"net/http"
	"strconv"

	"imgforge/history"
	"imgforge/logger"
)

// handleCleanup runs one retention sweep. ?force=true sweeps even when
// automatic cleanup is disabled.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	logger.Infof("Manual cleanup requested by %s (force=%v)", r.RemoteAddr, force)

	report, err := s.Cleanup.Run(r.Context(), force)
	if err != nil {
		respondInternal(w, "Cleanup failed", err)
		return
	}
	message := "Cleanup completed"
	if !report.Enabled {
		message = "Automatic cleanup is disabled; use force=true to sweep anyway"
	}
	respondSuccess(w, http.StatusOK, message, report)
}

// handleListJobs lists job history, optionally filtered by ?state=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		respondError(w, http.StatusServiceUnavailable, "Job history is not available")
		return
	}
	state := r.URL.Query().Get("state")
	switch state {
	case "", history.StateCompleted, history.StateFailed:
	default:
		respondError(w, http.StatusBadRequest, "state must be completed or failed")
		return
	}

	records, err := s.History.List(state)
	if err != nil {
		respondInternal(w, "Failed to list job history", err)
		return
	}
	respondSuccess(w, http.StatusOK, "", records)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		respondError(w, http.StatusServiceUnavailable, "Job history is not available")
		return
	}
	id := r.PathValue("id")
	rec, err := s.History.Get(id)
	if errors.Is(err, history.ErrNotFound) {
		respondError(w, http.StatusNotFound, "No history for job "+id)
		return
	}
	if err != nil {
		respondInternal(w, "Failed to read job history", err)
		return
	}
	respondSuccess(w, http.StatusOK, "", rec)
}
