package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// GetDataDir returns the directory where imgforge keeps its databases and file trees.
// The environment is read on every call so tests and operators can change it at runtime.
// Priority: IMGFORGE_DATA_DIR environment variable > "./data" default
func GetDataDir() string {
	if dir := os.Getenv("IMGFORGE_DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}

// GetUploadDir returns the directory holding temporary uploads waiting to be processed.
// Path: IMGFORGE_UPLOAD_DIR or {DATA_DIR}/uploads
func GetUploadDir() string {
	return dirFromEnv("IMGFORGE_UPLOAD_DIR", "uploads")
}

// GetProcessedDir returns the directory holding transform outputs.
// Path: IMGFORGE_PROCESSED_DIR or {DATA_DIR}/processed
func GetProcessedDir() string {
	return dirFromEnv("IMGFORGE_PROCESSED_DIR", "processed")
}

// GetArchiveDir returns the directory holding generated zip archives.
// Path: IMGFORGE_ARCHIVE_DIR or {DATA_DIR}/archives
func GetArchiveDir() string {
	return dirFromEnv("IMGFORGE_ARCHIVE_DIR", "archives")
}

// GetMirrorDir returns the base directory used by the "local" storage backend.
// Not configurable by end users; a stored credential only picks a folder below it.
func GetMirrorDir() string {
	return dirFromEnv("IMGFORGE_MIRROR_DIR", "mirror")
}

func dirFromEnv(name, sub string) string {
	if dir := os.Getenv(name); dir != "" {
		return dir
	}
	return filepath.Join(GetDataDir(), sub)
}

// GetSettingsDBPath returns the path of the pebble database holding the settings snapshot.
func GetSettingsDBPath() string {
	return filepath.Join(GetDataDir(), "settings.db")
}

// GetHistoryDBPath returns the path of the pebble database holding job outcome records.
func GetHistoryDBPath() string {
	return filepath.Join(GetDataDir(), "history.db")
}

// GetCredentialsDBPath returns the path of the pebble database holding storage credentials.
func GetCredentialsDBPath() string {
	return filepath.Join(GetDataDir(), "credentials.db")
}

func GetListenAddr() string {
	return EnvString("IMGFORGE_LISTEN_ADDR", ":8080")
}

// GetPublicBaseURL is prepended to download and status URLs. Empty means relative URLs.
func GetPublicBaseURL() string {
	return strings.TrimSuffix(os.Getenv("IMGFORGE_PUBLIC_URL"), "/")
}

// GetRedisAddr returns the broker address. An empty value disables the queue
// entirely and every job runs in direct mode.
func GetRedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

func GetRedisPassword() string {
	return os.Getenv("REDIS_PASSWORD")
}

func GetRedisDB() int {
	return EnvInt("REDIS_DB", 0)
}

// GetWorkerConcurrency is the number of image tasks a worker process runs at once.
func GetWorkerConcurrency() int {
	return EnvInt("IMGFORGE_WORKER_CONCURRENCY", 4)
}

// GetAdminSecret returns the HMAC secret used to verify admin tokens.
func GetAdminSecret() string {
	return os.Getenv("IMGFORGE_ADMIN_SECRET")
}

// GetCleanupGrace returns the minimum file age the cleanup engine requires
// before deleting anything, on top of the retention window.
func GetCleanupGrace() time.Duration {
	return EnvDuration("CLEANUP_GRACE", 0)
}

// EnvString returns the variable or def when it is unset.
func EnvString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// EnvInt returns the variable parsed as an int, or def when unset or malformed.
func EnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvFloat returns the variable parsed as a float64, or def when unset or malformed.
func EnvFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// EnvBool accepts the forms understood by strconv.ParseBool.
func EnvBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvDuration accepts Go duration strings ("90s", "2h30m").
func EnvDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
