package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"imgforge/logger"
)

// Operation is one of the four image transforms.
type Operation string

const (
	Compress Operation = "compress"
	Resize   Operation = "resize"
	Convert  Operation = "convert"
	Crop     Operation = "crop"
)

// Operations lists every supported operation.
var Operations = []Operation{Compress, Resize, Convert, Crop}

// ParseOperation validates an operation name taken from a URL or payload.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case Compress, Resize, Convert, Crop:
		return op, true
	}
	return "", false
}

var outputPrefix = map[Operation]string{
	Compress: "compressed-",
	Resize:   "resized-",
	Convert:  "converted-",
	Crop:     "cropped-",
}

// OutputPrefix is the filename prefix of files produced by op. Retention
// cleanup relies on it to recognise processed outputs.
func OutputPrefix(op Operation) string {
	return outputPrefix[op]
}

// Rect is a crop rectangle in source pixels.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Params carries the operation-specific parameters. Fields an operation
// does not use are ignored.
type Params struct {
	Quality int    `json:"quality,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Fit     string `json:"fit,omitempty"`
	Format  string `json:"format,omitempty"`
	Crop    *Rect  `json:"crop,omitempty"`
}

// Output describes an encoded result file.
type Output struct {
	Path   string `json:"-"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Mime   string `json:"mime"`
}

// Func applies the pixel-level part of an operation. Encoding is shared.
type Func func(img image.Image, p Params) (image.Image, error)

// Registry maps operation → transform function
var Registry = map[Operation]Func{
	Compress: passThrough,
	Convert:  passThrough,
	Resize:   resizeImage,
	Crop:     cropImage,
}

// Get looks up the transform for op.
func Get(op Operation) (Func, bool) {
	fn, ok := Registry[op]
	return fn, ok
}

var ErrInvalidParams = errors.New("invalid parameters")

// TransformError labels a failure with the operation that produced it.
type TransformError struct {
	Operation Operation
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Apply decodes in, runs op and encodes the result to outPath. The file
// appears at outPath only once fully written.
func Apply(ctx context.Context, op Operation, in, outPath string, p Params) (*Output, error) {
	fn, ok := Get(op)
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidParams, op)
	}
	p = p.WithDefaults(op)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputFormat, _, err := DetectFormat(in)
	if err != nil {
		return nil, &TransformError{Operation: op, Err: err}
	}
	src, err := imaging.Open(in, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &TransformError{Operation: op, Err: fmt.Errorf("decode: %w", err)}
	}

	dst, err := fn(src, p)
	if err != nil {
		return nil, &TransformError{Operation: op, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := OutputFormat(op, p, inputFormat)
	if err := encodeFile(outPath, dst, format, encodeQuality(op, p)); err != nil {
		return nil, &TransformError{Operation: op, Err: err}
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, &TransformError{Operation: op, Err: err}
	}
	b := dst.Bounds()
	logger.Debugf("%s %s -> %s (%s, %dx%d, %d bytes)", op, in, outPath, format, b.Dx(), b.Dy(), info.Size())

	return &Output{
		Path:   outPath,
		Size:   info.Size(),
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Mime:   Mime(format),
	}, nil
}

// encodeQuality is 0 ("encoder default") unless the operation takes a quality.
func encodeQuality(op Operation, p Params) int {
	switch op {
	case Compress, Convert:
		return p.Quality
	}
	return 0
}
