package transform

import (
	"fmt"
	"image"
	"os"
	"strings"

	// Register decoders beyond the stdlib ones imaging pulls in.
	_ "golang.org/x/image/webp"
)

// Supported output formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatGIF  = "gif"
	FormatTIFF = "tiff"
	FormatBMP  = "bmp"
)

var formatMime = map[string]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatWebP: "image/webp",
	FormatGIF:  "image/gif",
	FormatTIFF: "image/tiff",
	FormatBMP:  "image/bmp",
}

var formatExt = map[string]string{
	FormatJPEG: ".jpg",
	FormatPNG:  ".png",
	FormatWebP: ".webp",
	FormatGIF:  ".gif",
	FormatTIFF: ".tiff",
	FormatBMP:  ".bmp",
}

// NormalizeFormat maps aliases ("jpg", "tif", "image/png") to a supported
// format name. ok is false for anything unsupported.
func NormalizeFormat(name string) (string, bool) {
	f := strings.ToLower(strings.TrimSpace(name))
	f = strings.TrimPrefix(f, "image/")
	f = strings.TrimPrefix(f, ".")
	switch f {
	case "jpg", "jpeg":
		f = FormatJPEG
	case "tif", "tiff":
		f = FormatTIFF
	}
	if _, ok := formatMime[f]; !ok {
		return "", false
	}
	return f, true
}

// SupportedFormats lists the output formats in a stable order.
func SupportedFormats() []string {
	return []string{FormatJPEG, FormatPNG, FormatWebP, FormatGIF, FormatTIFF, FormatBMP}
}

// Mime returns the content type for a supported format.
func Mime(format string) string {
	return formatMime[format]
}

// Extension returns the file extension, dot included, for a supported format.
func Extension(format string) string {
	return formatExt[format]
}

// DetectFormat reads just enough of the file to report its format and dimensions.
func DetectFormat(path string) (format string, cfg image.Config, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", image.Config{}, err
	}
	defer f.Close()

	cfg, name, err := image.DecodeConfig(f)
	if err != nil {
		return "", image.Config{}, fmt.Errorf("unrecognized image: %w", err)
	}
	format, ok := NormalizeFormat(name)
	if !ok {
		return "", image.Config{}, fmt.Errorf("unsupported image format %q", name)
	}
	return format, cfg, nil
}

// OutputFormat decides the encoded format: convert uses the requested target,
// every other operation keeps the input's format.
func OutputFormat(op Operation, p Params, inputFormat string) string {
	if op == Convert {
		if f, ok := NormalizeFormat(p.Format); ok {
			return f
		}
	}
	return inputFormat
}
