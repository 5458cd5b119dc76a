package decoder

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"media-ingest/internal/logging"
	"media-ingest/internal/metrics"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ProbeDimensions reads the dimensions of an encoded image without
// decoding the full pixel data.
func ProbeDimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Some sources carry headers the config parsers choke on;
		// a full decode still succeeds for those.
		img, decodeErr := Decode(data)
		if decodeErr != nil {
			return 0, 0, fmt.Errorf("failed to probe dimensions: %w", err)
		}
		bounds := img.Bounds()
		return bounds.Dx(), bounds.Dy(), nil
	}
	return cfg.Width, cfg.Height, nil
}

// Decode decodes image bytes, trying imaging first, the registered
// stdlib codecs second, and an ffmpeg pipe last.
func Decode(data []byte) (image.Image, error) {
	start := time.Now()
	defer func() {
		metrics.DecodeDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	}()

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	logging.Debug("imaging decode failed: %v, trying stdlib", err)

	img, _, err = image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	logging.Debug("stdlib decode failed: %v, trying ffmpeg", err)

	img, ffErr := decodeWithFFmpeg(data)
	if ffErr != nil {
		metrics.DecodeErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("all decode methods failed: %w", ffErr)
	}
	return img, nil
}

// Resize decodes the source, fits it inside width x height preserving
// aspect ratio, and re-encodes in the requested format. The source is
// never upscaled: when it is smaller than the target in both
// dimensions it is encoded as-is.
func Resize(data []byte, width, height int, format string, quality int) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.DecodeDuration.WithLabelValues("resize").Observe(time.Since(start).Seconds())
	}()

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Dx() > width || bounds.Dy() > height {
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	}

	return Encode(img, format, quality)
}

// Encode serializes an image in the named format. Quality applies to
// lossy formats only.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	f, err := imagingFormat(format)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(quality)); err != nil {
		metrics.DecodeErrors.WithLabelValues("encode").Inc()
		return nil, fmt.Errorf("failed to encode as %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func imagingFormat(format string) (imaging.Format, error) {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return imaging.JPEG, nil
	case "png":
		return imaging.PNG, nil
	case "gif":
		return imaging.GIF, nil
	case "bmp":
		return imaging.BMP, nil
	case "tif", "tiff":
		return imaging.TIFF, nil
	default:
		return 0, fmt.Errorf("unsupported output format: %s", format)
	}
}

// ExtensionForFormat returns the artifact file extension for an output
// format. The "original" format preserves the source extension, which
// is how animated pass-through keeps its container.
func ExtensionForFormat(format, sourceName string) string {
	switch strings.ToLower(format) {
	case "original":
		if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(sourceName)), "."); ext != "" {
			return ext
		}
		return "bin"
	case "jpeg", "jpg":
		return "jpg"
	default:
		return strings.ToLower(format)
	}
}
