package routes

import (
	"errors"
	"net/http"

	"imgforge/job"
	"imgforge/logger"
	"imgforge/transform"
)

// jobTarget reads the job id and the ?type= operation naming its queue.
func jobTarget(w http.ResponseWriter, r *http.Request) (string, transform.Operation, bool) {
	id := r.PathValue("id")
	op, ok := transform.ParseOperation(r.URL.Query().Get("type"))
	if id == "" || !ok {
		respondError(w, http.StatusBadRequest, "A job id and a type query parameter (compress, resize, convert or crop) are required")
		return "", "", false
	}
	return id, op, true
}

func respondJobError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, job.ErrQueueUnavailable):
		respondError(w, http.StatusServiceUnavailable, "Job queue is not available")
	case errors.Is(err, job.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Job "+id+" not found")
	case errors.Is(err, job.ErrNotCancellable):
		respondError(w, http.StatusConflict, "Job "+id+" has already finished")
	case errors.Is(err, transform.ErrInvalidParams):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondInternal(w, "Job "+id, err)
	}
}

// handleStatus reports the state of a queued job.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, op, ok := jobTarget(w, r)
	if !ok {
		return
	}
	logger.Debugf("Checking status for job: %s (%s)", id, op)

	st, err := s.Jobs.Status(r.Context(), id, op)
	if err != nil {
		respondJobError(w, id, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", st)
}

// handleCancel removes a waiting job or stops a running one.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, op, ok := jobTarget(w, r)
	if !ok {
		return
	}
	logger.Infof("Cancel request for job: %s (%s)", id, op)

	if err := s.Jobs.Cancel(r.Context(), id, op); err != nil {
		respondJobError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
