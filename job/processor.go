package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"imgforge/logger"
	"imgforge/transform"
	writerbackends "imgforge/writerBackends"
)

var log = logger.With("job")

// Recorder stores job outcomes.
type Recorder interface {
	RecordSuccess(id, operation, mode string, result interface{}) error
	RecordFailure(id, operation, mode string, jobErr error, request interface{}) error
}

// CredentialSource resolves a storage key into backend credentials.
type CredentialSource interface {
	Get(key string) (map[string]string, error)
}

// MirrorFunc copies a finished output to an external storage backend.
type MirrorFunc func(ctx context.Context, creds map[string]string, localPath, objectName string) error

// Processor runs a request end to end: transform, metrics, input removal,
// optional mirroring and history. Both executors and the queue worker use it.
type Processor struct {
	ProcessedDir string
	BaseURL      string

	History     Recorder
	Credentials CredentialSource
	Mirror      MirrorFunc
}

// NewProcessor builds a processor writing into processedDir. history and
// creds may be nil.
func NewProcessor(processedDir, baseURL string, history Recorder, creds CredentialSource) *Processor {
	return &Processor{
		ProcessedDir: processedDir,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		History:      history,
		Credentials:  creds,
		Mirror:       writerbackends.WriteFile,
	}
}

// OutputName is the processed filename for req given the input's format.
func OutputName(req Request, inputFormat string) string {
	format := transform.OutputFormat(req.Operation, req.Params, inputFormat)
	return transform.OutputPrefix(req.Operation) + req.ID + transform.Extension(format)
}

// DownloadURL is the public link for a processed file.
func (p *Processor) DownloadURL(filename string) string {
	return p.BaseURL + "/images/download/" + filename
}

// Run executes req. The input upload is removed only on success so a queued
// retry can read it again. Queued failures are not recorded here: only the
// worker knows whether another attempt follows.
func (p *Processor) Run(ctx context.Context, req Request, mode string) (*Result, error) {
	res, err := p.run(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		if mode == ModeQueued {
			log.Warnf("Job %s (%s) attempt failed: %v", req.ID, req.Operation, err)
		} else {
			p.recordFailure(req, mode, err)
		}
		return nil, err
	}

	if err := os.Remove(req.InputPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to remove input %s: %v", req.InputPath, err)
	}

	if req.StorageKey != "" {
		if dest, err := p.mirror(ctx, req.StorageKey, filepath.Join(p.ProcessedDir, res.OutputFile), res.OutputFile); err != nil {
			log.Errorf("Job %s: failed to mirror output: %v", req.ID, err)
		} else {
			res.PublishedTo = dest
		}
	}

	if p.History != nil {
		if err := p.History.RecordSuccess(req.ID, string(req.Operation), mode, res); err != nil {
			log.Errorf("Failed to store success record for %s: %v", req.ID, err)
		}
	}
	log.Infof("Job %s (%s, %s) completed: %s", req.ID, req.Operation, mode, res.OutputFile)
	return res, nil
}

func (p *Processor) run(ctx context.Context, req Request) (*Result, error) {
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return nil, &transform.TransformError{Operation: req.Operation, Err: fmt.Errorf("input: %w", err)}
	}
	if err := transform.Validate(req.Operation, req.Params, req.InputPath); err != nil {
		return nil, err
	}
	inputFormat, _, err := transform.DetectFormat(req.InputPath)
	if err != nil {
		return nil, &transform.TransformError{Operation: req.Operation, Err: err}
	}

	outputFile := OutputName(req, inputFormat)
	out, err := transform.Apply(ctx, req.Operation, req.InputPath, filepath.Join(p.ProcessedDir, outputFile), req.Params)
	if err != nil {
		return nil, err
	}

	return &Result{
		JobID:            req.ID,
		Operation:        string(req.Operation),
		OutputFile:       outputFile,
		OriginalName:     req.OriginalName,
		OriginalSize:     info.Size(),
		OutputSize:       out.Size,
		CompressionRatio: CompressionRatio(info.Size(), out.Size),
		Width:            out.Width,
		Height:           out.Height,
		Format:           out.Format,
		Mime:             out.Mime,
		DownloadURL:      p.DownloadURL(outputFile),
	}, nil
}

func (p *Processor) mirror(ctx context.Context, key, localPath, objectName string) (string, error) {
	if p.Credentials == nil || p.Mirror == nil {
		return "", errors.New("no storage backend configured")
	}
	creds, err := p.Credentials.Get(key)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if err := p.Mirror(ctx, creds, localPath, objectName); err != nil {
		return "", err
	}
	return creds["type"], nil
}

func (p *Processor) recordFailure(req Request, mode string, err error) {
	log.Errorf("Job %s (%s, %s) failed: %v", req.ID, req.Operation, mode, err)
	if p.History == nil {
		return
	}
	if storeErr := p.History.RecordFailure(req.ID, string(req.Operation), mode, err, req); storeErr != nil {
		log.Errorf("Failed to store failure for %s: %v", req.ID, storeErr)
	}
}
