package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"imgforge/archive"
	"imgforge/logger"
)

// maxArchiveEntries caps how many files one archive request may name.
const maxArchiveEntries = 200

type archiveRequest struct {
	Files []archive.Entry `json:"files"`
}

type archiveResponse struct {
	Filename    string   `json:"filename"`
	Size        int64    `json:"size"`
	DownloadURL string   `json:"downloadUrl"`
	Included    []string `json:"included"`
	Skipped     []string `json:"skipped"`
}

// handleArchive zips previously processed files for a batch download.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var body archiveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.Files) == 0 {
		respondError(w, http.StatusBadRequest, "files must list at least one processed file")
		return
	}
	if len(body.Files) > maxArchiveEntries {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("At most %d files can be archived at once", maxArchiveEntries))
		return
	}

	a, err := s.Archives.Build(r.Context(), body.Files)
	if errors.Is(err, archive.ErrEmptyArchive) {
		respondError(w, http.StatusNotFound, "None of the requested files are available")
		return
	}
	if err != nil {
		respondInternal(w, "Failed to build archive", err)
		return
	}

	respondSuccess(w, http.StatusOK, "Archive created successfully", archiveResponse{
		Filename:    a.Filename,
		Size:        a.Size,
		DownloadURL: s.BaseURL + "/images/download-archive/" + a.Filename,
		Included:    a.Included,
		Skipped:     a.Skipped,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	serveAttachment(w, r, s.ProcessedDir, r.PathValue("filename"))
}

func (s *Server) handleArchiveDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !strings.HasPrefix(name, archive.Prefix) {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	serveAttachment(w, r, s.ArchiveDir, name)
}

// serveAttachment serves a single file from dir. Names that are not a plain
// file name are treated as missing.
func serveAttachment(w http.ResponseWriter, r *http.Request, dir, name string) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsRune(name, '\\') {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}

	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Errorf("Failed to open %s: %v", path, err)
		}
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
