package writerbackends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"imgforge/config"
	"imgforge/logger"
)

// UploadToDirectServe copies content into the local mirror directory, under
// an optional folder from creds. creds["baseDir"] overrides the mirror root.
func UploadToDirectServe(ctx context.Context, creds map[string]string, filename string, reader io.Reader) error {
	baseDir := creds["baseDir"]
	if baseDir == "" {
		baseDir = config.GetMirrorDir()
	}
	fullDir := filepath.Join(baseDir, filepath.Clean("/"+creds["folder"]))
	fullPath := filepath.Join(fullDir, filepath.Base(filename))

	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", fullPath, err)
	}

	logger.Infof("Mirrored '%s' to '%s'", filename, fullPath)
	return nil
}
