package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"imgforge/config"
)

// Rate limit categories. Each endpoint group is throttled by one of them.
const (
	CategoryGeneral = "general"
	CategoryImage   = "image"
	CategoryArchive = "archive"
	CategoryAdmin   = "admin"
)

// Categories lists every known rate limit category.
var Categories = []string{CategoryGeneral, CategoryImage, CategoryArchive, CategoryAdmin}

// RateLimit allows Max requests per client within WindowSeconds.
type RateLimit struct {
	WindowSeconds int `json:"windowSeconds"`
	Max           int `json:"max"`
}

// Window returns the window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Retention holds per-category retention windows in hours. Fractional hours are allowed.
type Retention struct {
	ProcessedHours       float64 `json:"processedHours"`
	ArchiveHours         float64 `json:"archiveHours"`
	TempHours            float64 `json:"tempHours"`
	AutoCleanup          bool    `json:"autoCleanup"`
	CleanupIntervalHours float64 `json:"cleanupIntervalHours"`
}

// Upload bounds what the upload endpoint accepts.
type Upload struct {
	MaxFileSizeMB int      `json:"maxFileSizeMB"`
	MaxFiles      int      `json:"maxFiles"`
	AllowedTypes  []string `json:"allowedTypes"`
}

// MaxFileSizeBytes returns the per-file upload limit in bytes.
func (u Upload) MaxFileSizeBytes() int64 {
	return int64(u.MaxFileSizeMB) << 20
}

// Allows reports whether mime is in AllowedTypes.
func (u Upload) Allows(mime string) bool {
	for _, t := range u.AllowedTypes {
		if strings.EqualFold(t, mime) {
			return true
		}
	}
	return false
}

// Snapshot is the full set of admin-configurable operational parameters.
// A published snapshot is never mutated; updates replace it.
type Snapshot struct {
	RateLimits map[string]RateLimit `json:"rateLimits"`
	Retention  Retention            `json:"retention"`
	Upload     Upload               `json:"upload"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// RateLimit returns the limits for category, falling back to the general
// category and then to the hardcoded general default.
func (s *Snapshot) RateLimit(category string) RateLimit {
	if rl, ok := s.RateLimits[category]; ok {
		return rl
	}
	if rl, ok := s.RateLimits[CategoryGeneral]; ok {
		return rl
	}
	return hardcodedRateLimits[CategoryGeneral]
}

// Clone returns a deep copy so callers can edit a snapshot before saving it.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.RateLimits = make(map[string]RateLimit, len(s.RateLimits))
	for k, v := range s.RateLimits {
		out.RateLimits[k] = v
	}
	out.Upload.AllowedTypes = append([]string(nil), s.Upload.AllowedTypes...)
	return &out
}

var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks the invariants every published snapshot must hold.
func (s *Snapshot) Validate() error {
	for name, rl := range s.RateLimits {
		if rl.WindowSeconds <= 0 {
			return fmt.Errorf("%w: rate limit %s window must be positive", ErrInvalidSettings, name)
		}
		if rl.Max <= 0 {
			return fmt.Errorf("%w: rate limit %s max must be positive", ErrInvalidSettings, name)
		}
	}
	r := s.Retention
	if r.ProcessedHours < 0 || r.ArchiveHours < 0 || r.TempHours < 0 {
		return fmt.Errorf("%w: retention hours must not be negative", ErrInvalidSettings)
	}
	if r.CleanupIntervalHours <= 0 {
		return fmt.Errorf("%w: cleanup interval must be positive", ErrInvalidSettings)
	}
	if s.Upload.MaxFileSizeMB <= 0 || s.Upload.MaxFiles <= 0 {
		return fmt.Errorf("%w: upload limits must be positive", ErrInvalidSettings)
	}
	if len(s.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("%w: at least one upload type must be allowed", ErrInvalidSettings)
	}
	return nil
}

var hardcodedRateLimits = map[string]RateLimit{
	CategoryGeneral: {WindowSeconds: 900, Max: 100},
	CategoryImage:   {WindowSeconds: 900, Max: 50},
	CategoryArchive: {WindowSeconds: 900, Max: 20},
	CategoryAdmin:   {WindowSeconds: 900, Max: 200},
}

// Defaults returns the hardcoded snapshot overlaid with the environment
// fallbacks. It is used when nothing was persisted yet and when the
// provider is unreachable with no last-known-good copy.
func Defaults() *Snapshot {
	limits := make(map[string]RateLimit, len(hardcodedRateLimits))
	for name, rl := range hardcodedRateLimits {
		env := "RATE_LIMIT_" + strings.ToUpper(name)
		limits[name] = RateLimit{
			WindowSeconds: config.EnvInt(env+"_WINDOW_SECONDS", rl.WindowSeconds),
			Max:           config.EnvInt(env+"_MAX", rl.Max),
		}
	}

	return &Snapshot{
		RateLimits: limits,
		Retention: Retention{
			ProcessedHours:       config.EnvFloat("RETENTION_PROCESSED_HOURS", 24),
			ArchiveHours:         config.EnvFloat("RETENTION_ARCHIVE_HOURS", 6),
			TempHours:            config.EnvFloat("RETENTION_TEMP_HOURS", 2.5),
			AutoCleanup:          config.EnvBool("AUTO_CLEANUP_ENABLED", true),
			CleanupIntervalHours: config.EnvFloat("CLEANUP_INTERVAL_HOURS", 1),
		},
		Upload: Upload{
			MaxFileSizeMB: config.EnvInt("UPLOAD_MAX_FILE_SIZE_MB", 10),
			MaxFiles:      config.EnvInt("UPLOAD_MAX_FILES", 10),
			AllowedTypes: []string{
				"image/jpeg", "image/png", "image/webp", "image/gif", "image/tiff", "image/bmp",
			},
		},
	}
}
