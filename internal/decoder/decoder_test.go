package decoder

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodeTestImage(t *testing.T, width, height int, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func testJPEG(t *testing.T, width, height int) []byte {
	return encodeTestImage(t, width, height, func(buf *bytes.Buffer, img image.Image) error {
		return jpeg.Encode(buf, img, &jpeg.Options{Quality: 90})
	})
}

func testPNG(t *testing.T, width, height int) []byte {
	return encodeTestImage(t, width, height, func(buf *bytes.Buffer, img image.Image) error {
		return png.Encode(buf, img)
	})
}

func TestProbeDimensions(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		width  int
		height int
	}{
		{"JPEG", testJPEG(t, 640, 480), 640, 480},
		{"PNG", testPNG(t, 100, 250), 100, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := ProbeDimensions(tt.data)
			if err != nil {
				t.Fatalf("ProbeDimensions failed: %v", err)
			}
			if w != tt.width || h != tt.height {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.width, tt.height)
			}
		})
	}
}

func TestProbeDimensionsGarbage(t *testing.T) {
	if _, _, err := ProbeDimensions([]byte("not an image at all")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestResizeDownscales(t *testing.T) {
	data := testJPEG(t, 800, 600)

	out, err := Resize(data, 300, 300, "jpeg", 85)
	if err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	w, h, err := ProbeDimensions(out)
	if err != nil {
		t.Fatalf("probe of output failed: %v", err)
	}
	if w > 300 || h > 300 {
		t.Errorf("output %dx%d exceeds 300x300", w, h)
	}
	if w != 300 {
		t.Errorf("aspect-fit width = %d, want 300", w)
	}
}

func TestResizeNeverUpscales(t *testing.T) {
	data := testPNG(t, 120, 80)

	out, err := Resize(data, 1920, 1080, "png", 100)
	if err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	w, h, err := ProbeDimensions(out)
	if err != nil {
		t.Fatalf("probe of output failed: %v", err)
	}
	if w != 120 || h != 80 {
		t.Errorf("small source was resized to %dx%d, want 120x80 unchanged", w, h)
	}
}

func TestResizeUnsupportedFormat(t *testing.T) {
	if _, err := Resize(testJPEG(t, 10, 10), 5, 5, "webp", 85); err == nil {
		t.Error("expected error for unsupported output format")
	}
}

func TestExtensionForFormat(t *testing.T) {
	tests := []struct {
		format   string
		source   string
		expected string
	}{
		{"jpeg", "a.png", "jpg"},
		{"jpg", "a.png", "jpg"},
		{"png", "a.jpg", "png"},
		{"PNG", "a.jpg", "png"},
		{"original", "clip.MP4", "mp4"},
		{"original", "anim.gif", "gif"},
		{"original", "noext", "bin"},
	}

	for _, tt := range tests {
		if got := ExtensionForFormat(tt.format, tt.source); got != tt.expected {
			t.Errorf("ExtensionForFormat(%q, %q) = %q, want %q", tt.format, tt.source, got, tt.expected)
		}
	}
}
