package routes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"imgforge/cleanup"
	"imgforge/credentials"
	"imgforge/job"
	"imgforge/logger"
	"imgforge/transform"
)

const (
	// multipartOverhead is allowed on top of the file size limit for the
	// other form fields and part headers.
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
	sniffLen          = 512
)

var completedMessage = map[transform.Operation]string{
	transform.Compress: "Image compressed successfully",
	transform.Resize:   "Image resized successfully",
	transform.Convert:  "Image converted successfully",
	transform.Crop:     "Image cropped successfully",
}

// handleUpload accepts one image and runs or queues the operation named in
// the path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	op, ok := transform.ParseOperation(r.PathValue("operation"))
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown operation: expected compress, resize, convert or crop")
		return
	}
	logger.Debugf("Upload request: operation=%s, remoteAddr=%s", op, r.RemoteAddr)

	snap := s.Settings.Get(r.Context())
	limit := snap.Upload.MaxFileSizeBytes()

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large: the limit is %d MB", snap.Upload.MaxFileSizeMB))
			return
		}
		respondError(w, http.StatusBadRequest, "Expected a multipart form with an image field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	if n := fileParts(r.MultipartForm); n > snap.Upload.MaxFiles {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Too many files: at most %d per request", snap.Upload.MaxFiles))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()

	if header.Size > limit {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large: the limit is %d MB", snap.Upload.MaxFileSizeMB))
		return
	}

	params, err := parseParams(op, r.FormValue)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	webhook, err := parseWebhook(r.FormValue("webhookUrl"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	storageKey := strings.TrimSpace(r.FormValue("storageKey"))
	if storageKey != "" {
		if msg, code := s.checkStorageKey(storageKey); code != 0 {
			respondError(w, code, msg)
			return
		}
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		respondError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	head = head[:n]
	mime := sniffType(head, header.Header.Get("Content-Type"))
	if !snap.Upload.Allows(mime) {
		respondError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported file type %s: allowed types are %s",
			mime, strings.Join(snap.Upload.AllowedTypes, ", ")))
		return
	}

	inputPath, err := s.saveUpload(io.MultiReader(bytes.NewReader(head), file), mime, header.Filename)
	if err != nil {
		respondInternal(w, "Failed to store upload", err)
		return
	}

	req := job.Request{
		Operation:    op,
		InputPath:    inputPath,
		OriginalName: filepath.Base(filepath.Clean("/" + header.Filename)),
		Params:       params,
		WebhookURL:   webhook,
		StorageKey:   storageKey,
	}
	out, err := s.Dispatcher.Submit(r.Context(), req)
	if err != nil {
		respondSubmitError(w, err)
		return
	}

	if out.Queued() {
		respondSuccess(w, http.StatusAccepted, "Image queued for processing", out.Handle)
		return
	}
	respondSuccess(w, http.StatusOK, completedMessage[op], out.Result)
}

func respondSubmitError(w http.ResponseWriter, err error) {
	var te *transform.TransformError
	switch {
	case errors.Is(err, transform.ErrInvalidParams):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &te):
		logger.Warnf("Transform failed: %v", err)
		respondError(w, http.StatusUnprocessableEntity, te.Error())
	case errors.Is(err, job.ErrCancelled), errors.Is(err, context.Canceled):
		respondError(w, http.StatusRequestTimeout, "Request cancelled")
	default:
		respondInternal(w, "Failed to process image", err)
	}
}

// parseParams reads the operation parameters from form fields. For crop,
// width and height describe the crop rectangle.
func parseParams(op transform.Operation, value func(string) string) (transform.Params, error) {
	var (
		p   transform.Params
		err error
	)
	ints := map[string]*int{"quality": &p.Quality, "width": &p.Width, "height": &p.Height}
	for name, dst := range ints {
		if *dst, err = intField(value, name); err != nil {
			return p, err
		}
	}
	p.Fit = strings.ToLower(strings.TrimSpace(value("fit")))
	p.Format = strings.TrimSpace(value("format"))

	if op == transform.Crop {
		left, err := intField(value, "left")
		if err != nil {
			return p, err
		}
		top, err := intField(value, "top")
		if err != nil {
			return p, err
		}
		if value("left") != "" || value("top") != "" || p.Width != 0 || p.Height != 0 {
			p.Crop = &transform.Rect{Left: left, Top: top, Width: p.Width, Height: p.Height}
		}
		p.Width, p.Height = 0, 0
	}
	return p, nil
}

func intField(value func(string) string, name string) (int, error) {
	raw := strings.TrimSpace(value(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", transform.ErrInvalidParams, name)
	}
	return n, nil
}

func parseWebhook(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("webhookUrl must be an absolute http or https URL")
	}
	return u.String(), nil
}

func (s *Server) checkStorageKey(key string) (string, int) {
	if s.Credentials == nil {
		return "Storage mirroring is not configured", http.StatusBadRequest
	}
	if _, err := s.Credentials.Get(key); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return "Unknown storage key", http.StatusBadRequest
		}
		logger.Errorf("Failed to load credentials %s: %v", key, err)
		return "Internal server error", http.StatusInternalServerError
	}
	return "", 0
}

// sniffType detects the content type from the file's first bytes. The
// client's declared type is used only for formats the sniffer does not know.
func sniffType(head []byte, declared string) string {
	mime := http.DetectContentType(head)
	if mime == "application/octet-stream" && declared != "" {
		mime = declared
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// saveUpload writes the upload to upload-<uuid><ext> in the upload directory.
func (s *Server) saveUpload(src io.Reader, mime, filename string) (string, error) {
	if err := os.MkdirAll(s.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if format, ok := transform.NormalizeFormat(mime); ok {
		ext = transform.Extension(format)
	}
	path := filepath.Join(s.UploadDir, cleanup.UploadPrefix+uuid.New().String()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func fileParts(form *multipart.Form) int {
	n := 0
	for _, files := range form.File {
		n += len(files)
	}
	return n
}
