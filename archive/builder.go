package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"imgforge/logger"
)

// Prefix names every generated archive.
const Prefix = "archive-"

var ErrEmptyArchive = errors.New("none of the requested files are available")

var log = logger.With("archive")

// Entry is one processed file and the name it should carry in the archive.
type Entry struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
}

// Archive describes a finished zip file.
type Archive struct {
	Filename string   `json:"filename"`
	Path     string   `json:"-"`
	Size     int64    `json:"size"`
	Included []string `json:"included"`
	Skipped  []string `json:"skipped"`
}

// Builder zips processed files from sourceDir into archiveDir.
type Builder struct {
	sourceDir  string
	archiveDir string
}

func NewBuilder(sourceDir, archiveDir string) *Builder {
	return &Builder{sourceDir: sourceDir, archiveDir: archiveDir}
}

// Build streams every existing entry into a new zip. Missing files are
// skipped. The archive is closed and synced before Build returns.
func (b *Builder) Build(ctx context.Context, entries []Entry) (*Archive, error) {
	if err := os.MkdirAll(b.archiveDir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(b.archiveDir, ".archive-*")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	arc := &Archive{Included: []string{}, Skipped: []string{}}
	zw := zip.NewWriter(tmp)
	names := make(map[string]int)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			tmp.Close()
			return nil, err
		}
		source := sanitize(e.Filename)
		if source == "" {
			arc.Skipped = append(arc.Skipped, e.Filename)
			continue
		}
		if _, err := os.Stat(filepath.Join(b.sourceDir, source)); os.IsNotExist(err) {
			log.Debugf("Skipping missing file %s", source)
			arc.Skipped = append(arc.Skipped, source)
			continue
		}
		added, err := b.add(zw, source, uniqueName(names, displayName(e, source)))
		if err != nil {
			zw.Close()
			tmp.Close()
			return nil, err
		}
		if added {
			arc.Included = append(arc.Included, source)
		} else {
			arc.Skipped = append(arc.Skipped, source)
		}
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if len(arc.Included) == 0 {
		return nil, ErrEmptyArchive
	}

	arc.Filename = Prefix + uuid.New().String() + ".zip"
	arc.Path = filepath.Join(b.archiveDir, arc.Filename)
	if err := os.Rename(tmpPath, arc.Path); err != nil {
		return nil, fmt.Errorf("move archive: %w", err)
	}
	info, err := os.Stat(arc.Path)
	if err != nil {
		return nil, err
	}
	arc.Size = info.Size()

	log.Infof("Built %s with %d files (%d skipped, %d bytes)", arc.Filename, len(arc.Included), len(arc.Skipped), arc.Size)
	return arc, nil
}

// add copies source into zw as name. It reports false when source is gone.
func (b *Builder) add(zw *zip.Writer, source, name string) (bool, error) {
	f, err := os.Open(filepath.Join(b.sourceDir, source))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", source, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", source, err)
	}
	if info.IsDir() {
		return false, nil
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime().UTC().Truncate(time.Second),
	})
	if err != nil {
		return false, fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("write %s: %w", name, err)
	}
	return true, nil
}

// sanitize reduces a client-supplied name to a bare file name.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// displayName is the original name with the processed file's extension,
// since convert changes the format.
func displayName(e Entry, source string) string {
	name := sanitize(e.OriginalName)
	if name == "" {
		return source
	}
	if ext := filepath.Ext(source); ext != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	}
	return name
}

// uniqueName appends " (n)" before the extension for repeated names.
func uniqueName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
	return uniqueName(seen, candidate)
}
