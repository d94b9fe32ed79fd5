package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// writeNoiseJPEG writes a w×h JPEG of random pixels at quality 100, which
// leaves plenty of room for compression.
func writeNoiseJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	path := filepath.Join(dir, "upload-noise.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return path
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	path := filepath.Join(dir, "upload-gradient.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return path
}

func TestCompressShrinksJPEG(t *testing.T) {
	dir := t.TempDir()
	in := writeNoiseJPEG(t, dir, 200, 150)
	out := filepath.Join(dir, "compressed-1.jpg")

	info, _ := os.Stat(in)
	res, err := Apply(context.Background(), Compress, in, out, Params{Quality: 60})
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if res.Size >= info.Size() {
		t.Errorf("Expected compressed size < %d, got %d", info.Size(), res.Size)
	}
	if res.Format != FormatJPEG || res.Mime != "image/jpeg" {
		t.Errorf("Expected jpeg output, got %s (%s)", res.Format, res.Mime)
	}
	if res.Width != 200 || res.Height != 150 {
		t.Errorf("Compress must keep dimensions, got %dx%d", res.Width, res.Height)
	}
}

func TestResizeModes(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 200, 100)

	cases := []struct {
		name         string
		params       Params
		wantW, wantH int
	}{
		{"width only keeps aspect", Params{Width: 100}, 100, 50},
		{"height only keeps aspect", Params{Height: 25}, 50, 25},
		{"inside", Params{Width: 50, Height: 50}, 50, 25},
		{"contain", Params{Width: 50, Height: 50, Fit: FitContain}, 50, 50},
		{"cover", Params{Width: 50, Height: 50, Fit: FitCover}, 50, 50},
		{"fill", Params{Width: 40, Height: 60, Fit: FitFill}, 40, 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "resized.png")
			res, err := Apply(context.Background(), Resize, in, out, tc.params)
			if err != nil {
				t.Fatalf("Resize failed: %v", err)
			}
			if res.Width != tc.wantW || res.Height != tc.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tc.wantW, tc.wantH, res.Width, res.Height)
			}
		})
	}
}

func TestResizeContainLetterboxes(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 200, 100)
	out := filepath.Join(dir, "resized-contain.png")

	if _, err := Apply(context.Background(), Resize, in, out, Params{Width: 50, Height: 50, Fit: FitContain}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("Failed to open output: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if _, _, _, a := img.At(25, 2).RGBA(); a != 0 {
		t.Errorf("Expected a transparent band above the image, alpha %d", a)
	}
	if _, _, _, a := img.At(25, 25).RGBA(); a == 0 {
		t.Error("Expected the image itself in the middle of the canvas")
	}
}

func TestConvertChangesFormat(t *testing.T) {
	dir := t.TempDir()
	in := writeNoiseJPEG(t, dir, 32, 32)
	out := filepath.Join(dir, "converted-1.png")

	res, err := Apply(context.Background(), Convert, in, out, Params{Format: "PNG"})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	format, _, err := DetectFormat(out)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	if format != FormatPNG || res.Mime != "image/png" {
		t.Errorf("Expected png output, detected %s / %s", format, res.Mime)
	}
}

func TestCropProducesRectangle(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 100, 80)
	out := filepath.Join(dir, "cropped-1.png")

	params := Params{Crop: &Rect{Left: 10, Top: 20, Width: 30, Height: 40}}
	if err := Validate(Crop, params, in); err != nil {
		t.Fatalf("Expected valid crop, got %v", err)
	}
	res, err := Apply(context.Background(), Crop, in, out, params)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if res.Width != 30 || res.Height != 40 {
		t.Errorf("Expected 30x40, got %dx%d", res.Width, res.Height)
	}
}

// writeRotatedJPEG writes a w×h JPEG tagged with EXIF orientation 6, so it
// displays as h×w.
func writeRotatedJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	exif := []byte("Exif\x00\x00" +
		"MM\x00\x2a\x00\x00\x00\x08" + // big-endian TIFF header, IFD at 8
		"\x00\x01" + // one entry
		"\x01\x12\x00\x03\x00\x00\x00\x01\x00\x06\x00\x00" + // orientation = 6
		"\x00\x00\x00\x00")
	size := len(exif) + 2
	segment := append([]byte{0xff, 0xe1, byte(size >> 8), byte(size)}, exif...)

	data := buf.Bytes()
	tagged := append(append(append([]byte{}, data[:2]...), segment...), data[2:]...)
	path := filepath.Join(dir, "upload-rotated.jpg")
	if err := os.WriteFile(path, tagged, 0644); err != nil {
		t.Fatalf("Failed to write test image: %v", err)
	}
	return path
}

func TestCropUsesOrientedCoordinates(t *testing.T) {
	dir := t.TempDir()
	in := writeRotatedJPEG(t, dir, 200, 100)

	tall := Params{Crop: &Rect{Width: 90, Height: 150}}
	if err := Validate(Crop, tall, in); err != nil {
		t.Fatalf("Expected crop inside the displayed 100x200 image to be valid, got %v", err)
	}
	res, err := Apply(context.Background(), Crop, in, filepath.Join(dir, "cropped-1.jpg"), tall)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if res.Width != 90 || res.Height != 150 {
		t.Errorf("Expected 90x150, got %dx%d", res.Width, res.Height)
	}

	wide := Params{Crop: &Rect{Width: 150, Height: 80}}
	if err := Validate(Crop, wide, in); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected crop wider than the displayed image to be rejected, got %v", err)
	}
}

func TestValidateRejectsBadParams(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 100, 80)

	cases := []struct {
		name   string
		op     Operation
		params Params
	}{
		{"quality too high", Compress, Params{Quality: 101}},
		{"negative quality", Compress, Params{Quality: -5}},
		{"resize without dimensions", Resize, Params{}},
		{"resize unknown fit", Resize, Params{Width: 10, Fit: "stretch"}},
		{"resize too large", Resize, Params{Width: MaxDimension + 1}},
		{"convert unsupported", Convert, Params{Format: "avif"}},
		{"crop missing", Crop, Params{}},
		{"crop outside bounds", Crop, Params{Crop: &Rect{Left: 90, Top: 0, Width: 20, Height: 10}}},
		{"crop negative origin", Crop, Params{Crop: &Rect{Left: -1, Top: 0, Width: 5, Height: 5}}},
		{"unknown operation", Operation("rotate"), Params{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.op, tc.params, in); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestValidateRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload-notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Validate(Compress, Params{Quality: 80}, path); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams for a text file, got %v", err)
	}
}

func TestApplyLabelsCorruptInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload-broken.png")
	// Valid PNG signature, zeroed header chunk.
	data := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Apply(context.Background(), Compress, path, filepath.Join(dir, "out.png"), Params{})
	var te *TransformError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransformError, got %v", err)
	}
	if te.Operation != Compress {
		t.Errorf("Expected compress label, got %s", te.Operation)
	}
}

func TestApplyHonoursCancelledContext(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, 10, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Apply(ctx, Compress, in, filepath.Join(dir, "out.png"), Params{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNormalizeFormatAndOutputFormat(t *testing.T) {
	if f, ok := NormalizeFormat("image/JPG"); !ok || f != FormatJPEG {
		t.Errorf("Expected jpeg, got %q %v", f, ok)
	}
	if _, ok := NormalizeFormat("heic"); ok {
		t.Error("heic must not be supported")
	}
	if f := OutputFormat(Convert, Params{Format: "webp"}, FormatJPEG); f != FormatWebP {
		t.Errorf("Convert should use the target format, got %s", f)
	}
	if f := OutputFormat(Resize, Params{Format: "webp"}, FormatPNG); f != FormatPNG {
		t.Errorf("Resize should keep the input format, got %s", f)
	}
	if ext := Extension(FormatJPEG); ext != ".jpg" {
		t.Errorf("Expected .jpg, got %s", ext)
	}
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations {
		if got, ok := ParseOperation(string(op)); !ok || got != op {
			t.Errorf("ParseOperation(%s) = %s, %v", op, got, ok)
		}
	}
	if _, ok := ParseOperation("sharpen"); ok {
		t.Error("Expected unknown operation to be rejected")
	}
}
