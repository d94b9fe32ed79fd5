package routes

import (
	"net/http"
	"strings"

	"imgforge/archive"
	"imgforge/auth"
	"imgforge/cleanup"
	"imgforge/credentials"
	"imgforge/history"
	"imgforge/job"
	"imgforge/ratelimit"
	"imgforge/settings"
)

// HealthChecker is a dependency that can report whether it is usable.
type HealthChecker interface {
	Health() error
}

// Server holds the services behind the HTTP API. Every field except the
// optional ones noted below must be set before Handler is called.
type Server struct {
	Settings      *settings.Cache
	SettingsStore settings.Saver
	Limiters      *ratelimit.Factory

	Queue      job.Availability
	Dispatcher *job.Dispatcher
	Jobs       *job.StatusService
	Archives   *archive.Builder
	Cleanup    *cleanup.Scheduler

	// Optional.
	History     *history.Store
	Credentials *credentials.Store
	Stores      map[string]HealthChecker

	UploadDir    string
	ProcessedDir string
	ArchiveDir   string
	BaseURL      string
	AdminSecret  string
}

// Handler builds the routed, middleware-wrapped API.
func (s *Server) Handler() http.Handler {
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")

	image := s.Limiters.Middleware(settings.CategoryImage)
	arch := s.Limiters.Middleware(settings.CategoryArchive)
	admin := chain(s.Limiters.Middleware(settings.CategoryAdmin), auth.RequireAdmin(s.AdminSecret))

	mux := http.NewServeMux()
	mux.Handle("POST /images/{operation}", image(http.HandlerFunc(s.handleUpload)))
	mux.HandleFunc("GET /images/status/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /images/jobs/{id}", s.handleCancel)
	mux.Handle("POST /images/archive", arch(http.HandlerFunc(s.handleArchive)))
	mux.HandleFunc("GET /images/download/{filename}", s.handleDownload)
	mux.Handle("GET /images/download-archive/{filename}", arch(http.HandlerFunc(s.handleArchiveDownload)))

	mux.HandleFunc("GET /admin/settings/rate-limits", s.handleRateLimits)
	mux.HandleFunc("GET /admin/settings/file-upload", s.handleUploadSettings)
	mux.Handle("GET /admin/settings", admin(http.HandlerFunc(s.handleGetSettings)))
	mux.Handle("PUT /admin/settings", admin(http.HandlerFunc(s.handlePutSettings)))
	mux.Handle("POST /admin/cleanup-images", admin(http.HandlerFunc(s.handleCleanup)))
	mux.Handle("GET /admin/jobs", admin(http.HandlerFunc(s.handleListJobs)))
	mux.Handle("GET /admin/jobs/{id}", admin(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("POST /admin/storage/credentials", admin(http.HandlerFunc(s.handleRegisterCredentials)))
	mux.Handle("DELETE /admin/storage/credentials/{key}", admin(http.HandlerFunc(s.handleDeleteCredentials)))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", handleVersion)

	return chain(logRequests, recoverPanics, s.Limiters.Middleware(settings.CategoryGeneral))(mux)
}
