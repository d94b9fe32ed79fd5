package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"imgforge/logger"
	"imgforge/settings"
)

type rateLimitView struct {
	WindowSeconds int `json:"windowSeconds"`
	WindowMinutes int `json:"windowMinutes"`
	Max           int `json:"max"`
}

// handleRateLimits is the public projection of the current rate limits.
func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	snap := s.Settings.Get(r.Context())
	out := make(map[string]rateLimitView, len(settings.Categories))
	for _, c := range settings.Categories {
		rl := snap.RateLimit(c)
		out[c] = rateLimitView{WindowSeconds: rl.WindowSeconds, WindowMinutes: rl.WindowSeconds / 60, Max: rl.Max}
	}
	respondSuccess(w, http.StatusOK, "", out)
}

// handleUploadSettings is the public projection of the upload limits.
func (s *Server) handleUploadSettings(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "", s.Settings.Get(r.Context()).Upload)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "", s.Settings.Get(r.Context()))
}

// handlePutSettings merges the body over the current snapshot, persists it
// and invalidates the settings cache, which also drops every limiter.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.Settings.Get(r.Context()).Clone()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(next); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid settings body: "+err.Error())
		return
	}
	if err := next.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Settings.Update(r.Context(), s.SettingsStore, next); err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondInternal(w, "Failed to save settings", err)
		return
	}
	logger.Infof("Settings updated by %s", r.RemoteAddr)
	respondSuccess(w, http.StatusOK, "Settings updated", s.Settings.Get(r.Context()))
}
