package transform

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Limits on user-supplied parameters.
const (
	DefaultQuality = 80
	MaxDimension   = 10000
)

// Resize fit modes.
const (
	FitInside  = "inside"
	FitContain = "contain"
	FitCover   = "cover"
	FitFill    = "fill"
)

// WithDefaults fills optional parameters with their defaults for op.
func (p Params) WithDefaults(op Operation) Params {
	switch op {
	case Compress:
		if p.Quality == 0 {
			p.Quality = DefaultQuality
		}
	case Resize:
		if p.Fit == "" {
			p.Fit = FitInside
		}
	}
	if f, ok := NormalizeFormat(p.Format); ok {
		p.Format = f
	}
	return p
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Validate checks p for op against the input file. Only crop needs the
// image dimensions; every operation needs a decodable image.
func Validate(op Operation, p Params, inputPath string) error {
	if _, ok := Get(op); !ok {
		return invalid("unknown operation %q", op)
	}
	p = p.WithDefaults(op)

	if p.Quality < 0 || p.Quality > 100 {
		return invalid("quality must be between 1 and 100")
	}

	switch op {
	case Compress:
		if p.Quality < 1 {
			return invalid("quality must be between 1 and 100")
		}
	case Resize:
		if p.Width < 0 || p.Height < 0 {
			return invalid("width and height must not be negative")
		}
		if p.Width == 0 && p.Height == 0 {
			return invalid("at least one of width or height is required")
		}
		if p.Width > MaxDimension || p.Height > MaxDimension {
			return invalid("width and height must not exceed %d", MaxDimension)
		}
		switch p.Fit {
		case FitInside, FitContain, FitCover, FitFill:
		default:
			return invalid("fit must be one of inside, contain, cover, fill")
		}
	case Convert:
		if _, ok := NormalizeFormat(p.Format); !ok {
			return invalid("format must be one of %s", strings.Join(SupportedFormats(), ", "))
		}
	case Crop:
		if p.Crop == nil {
			return invalid("crop rectangle is required")
		}
		c := p.Crop
		if c.Left < 0 || c.Top < 0 {
			return invalid("crop left and top must not be negative")
		}
		if c.Width <= 0 || c.Height <= 0 {
			return invalid("crop width and height must be positive")
		}
	}

	if _, _, err := DetectFormat(inputPath); err != nil {
		return invalid("%v", err)
	}
	if op == Crop {
		width, height, err := orientedSize(inputPath)
		if err != nil {
			return invalid("%v", err)
		}
		c := p.Crop
		if c.Left+c.Width > width || c.Top+c.Height > height {
			return invalid("crop rectangle %dx%d+%d+%d exceeds image bounds %dx%d",
				c.Width, c.Height, c.Left, c.Top, width, height)
		}
	}
	return nil
}

// orientedSize is the size of the image as Apply sees it, after the EXIF
// orientation is applied. Crop coordinates are in that space.
func orientedSize(path string) (int, int, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

func passThrough(img image.Image, p Params) (image.Image, error) {
	return img, nil
}

func resizeImage(img image.Image, p Params) (image.Image, error) {
	if p.Width == 0 || p.Height == 0 {
		// Only one side given: scale preserving the aspect ratio.
		return imaging.Resize(img, p.Width, p.Height, imaging.Lanczos), nil
	}
	switch p.Fit {
	case FitCover:
		return imaging.Fill(img, p.Width, p.Height, imaging.Center, imaging.Lanczos), nil
	case FitFill:
		return imaging.Resize(img, p.Width, p.Height, imaging.Lanczos), nil
	case FitContain:
		// Letterbox onto a transparent canvas of exactly the requested size.
		fitted := imaging.Fit(img, p.Width, p.Height, imaging.Lanczos)
		canvas := imaging.New(p.Width, p.Height, color.NRGBA{})
		return imaging.PasteCenter(canvas, fitted), nil
	default:
		return imaging.Fit(img, p.Width, p.Height, imaging.Lanczos), nil
	}
}

func cropImage(img image.Image, p Params) (image.Image, error) {
	if p.Crop == nil {
		return nil, invalid("crop rectangle is required")
	}
	c := p.Crop
	b := img.Bounds()
	rect := image.Rect(c.Left, c.Top, c.Left+c.Width, c.Top+c.Height).Add(b.Min)
	if !rect.In(b) {
		return nil, invalid("crop rectangle exceeds image bounds %dx%d", b.Dx(), b.Dy())
	}
	return imaging.Crop(img, rect), nil
}

// encodeFile writes img to a sibling temp file and renames it into place.
func encodeFile(outPath string, img image.Image, format string, quality int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".encode-*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := encode(tmp, img, format, quality); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("move output file: %w", err)
	}
	return nil
}

func encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case FormatJPEG:
		if quality == 0 {
			quality = 90
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		level := png.DefaultCompression
		if quality > 0 {
			// PNG is lossless; a requested quality means "make it small".
			level = png.BestCompression
		}
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(level))
	case FormatGIF:
		colors := 256
		if quality > 0 {
			colors = max(2, quality*256/100)
		}
		return imaging.Encode(w, img, imaging.GIF, imaging.GIFNumColors(colors))
	case FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case FormatWebP:
		if quality == 0 {
			quality = 85
		}
		options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return fmt.Errorf("webp encoder options: %w", err)
		}
		return webp.Encode(w, img, options)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
