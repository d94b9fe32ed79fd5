package job

import (
	"errors"
	"math"

	"imgforge/transform"
)

// Execution modes recorded in history.
const (
	ModeDirect = "direct"
	ModeQueued = "queued"
)

// CancelledReason is the failure reason of a job cancelled while running.
const CancelledReason = "cancelled"

var (
	ErrQueueUnavailable = errors.New("job queue is not available")
	ErrJobNotFound      = errors.New("job not found")
	ErrNotCancellable   = errors.New("job has already finished")
	ErrCancelled        = errors.New(CancelledReason)
)

// Request is one transform job. It doubles as the queued task payload.
type Request struct {
	ID           string              `json:"id"`
	Operation    transform.Operation `json:"operation"`
	InputPath    string              `json:"inputPath"`
	OriginalName string              `json:"originalName"`
	Params       transform.Params    `json:"params"`
	WebhookURL   string              `json:"webhookUrl,omitempty"`
	StorageKey   string              `json:"storageKey,omitempty"`
}

// Result is the terminal output of a successful job.
type Result struct {
	JobID            string `json:"jobId"`
	Operation        string `json:"operation"`
	OutputFile       string `json:"outputFile"`
	OriginalName     string `json:"originalName"`
	OriginalSize     int64  `json:"originalSize"`
	OutputSize       int64  `json:"outputSize"`
	CompressionRatio int    `json:"compressionRatio"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Format           string `json:"format"`
	Mime             string `json:"mime"`
	DownloadURL      string `json:"downloadUrl"`
	PublishedTo      string `json:"publishedTo,omitempty"`
}

// Handle points at a queued job.
type Handle struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
}

// Outcome of a submission. Exactly one of Handle and Result is set.
type Outcome struct {
	Handle *Handle
	Result *Result
}

func (o Outcome) Queued() bool { return o.Handle != nil }

// CompressionRatio is the whole-percent size reduction from original to
// output. It is negative when the output grew and 0 for an empty original.
func CompressionRatio(original, output int64) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(output)/float64(original)) * 100))
}

// StatusPath is where clients poll a queued job.
func StatusPath(id string, op transform.Operation) string {
	return "/images/status/" + id + "?type=" + string(op)
}
