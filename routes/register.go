package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"imgforge/credentials"
	"imgforge/logger"
)

// handleRegisterCredentials stores storage backend credentials and returns
// the access key uploads pass as storageKey.
func (s *Server) handleRegisterCredentials(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		respondError(w, http.StatusServiceUnavailable, "Credential store is not available")
		return
	}

	creds := make(map[string]string)
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key, err := s.Credentials.Register(creds)
	if errors.Is(err, credentials.ErrInvalidType) {
		respondError(w, http.StatusBadRequest, "type must be one of directServe, local, s3, gcs, sftp")
		return
	}
	if err != nil {
		respondInternal(w, "Failed to store credentials", err)
		return
	}
	logger.Infof("Registered %s credentials", creds["type"])
	respondSuccess(w, http.StatusCreated, "Credentials stored", map[string]string{"accessKey": key})
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if s.Credentials == nil {
		respondError(w, http.StatusServiceUnavailable, "Credential store is not available")
		return
	}
	err := s.Credentials.Delete(r.PathValue("key"))
	if errors.Is(err, credentials.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Unknown access key")
		return
	}
	if err != nil {
		respondInternal(w, "Failed to delete credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
