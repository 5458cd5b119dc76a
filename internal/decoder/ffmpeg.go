package decoder

import (
	"bytes"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"media-ingest/internal/logging"
	"media-ingest/internal/metrics"

	"github.com/disintegration/imaging"
)

// decodeWithFFmpeg pipes the bytes through ffmpeg and decodes the
// resulting PNG frame. Last-resort path for formats the Go codecs
// cannot read.
func decodeWithFFmpeg(data []byte) (image.Image, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

// ProbeVideoDimensions returns the frame dimensions of a video file
// using ffprobe.
func ProbeVideoDimensions(path string) (width, height int, err error) {
	start := time.Now()
	defer func() {
		metrics.DecodeDuration.WithLabelValues("probe_video").Observe(time.Since(start).Seconds())
	}()

	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, 0, fmt.Errorf("ffprobe not found: %w", err)
	}

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		metrics.DecodeErrors.WithLabelValues("probe_video").Inc()
		return 0, 0, fmt.Errorf("ffprobe failed for %s: %v, stderr: %s", path, err, stderr.String())
	}

	parts := strings.Split(strings.TrimSpace(stdout.String()), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected ffprobe output %q for %s", stdout.String(), path)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad width in ffprobe output: %w", err)
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad height in ffprobe output: %w", err)
	}
	return width, height, nil
}

// VideoThumbnail extracts a representative frame from a video file and
// returns it encoded at the requested size and quality. The frame one
// second in usually skips black lead-ins; the zero-offset retry covers
// clips shorter than that.
func VideoThumbnail(path string, width, height, quality int) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.DecodeDuration.WithLabelValues("video_thumbnail").Observe(time.Since(start).Seconds())
	}()

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	frame, err := extractFrame(path, "00:00:01")
	if err != nil {
		logging.Debug("frame extraction at 1s failed for %s: %v, retrying from start", path, err)
		frame, err = extractFrame(path, "")
		if err != nil {
			metrics.DecodeErrors.WithLabelValues("video_thumbnail").Inc()
			return nil, err
		}
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode extracted frame: %w", err)
	}

	thumb := imaging.Fit(img, width, height, imaging.Lanczos)
	return Encode(thumb, "jpeg", quality)
}

func extractFrame(path, seek string) ([]byte, error) {
	args := []string{"-i", path}
	if seek != "" {
		args = []string{"-ss", seek, "-i", path}
	}
	args = append(args, "-vframes", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	cmd := exec.Command("ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed for %s: %v, stderr: %s", path, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", path)
	}
	return stdout.Bytes(), nil
}
