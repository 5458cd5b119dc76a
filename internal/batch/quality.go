package batch

// SmartQuality estimates a sensible JPEG quality from the compression
// density of the source. A source storing two or more bytes per pixel
// is barely compressed and survives a high-quality re-encode; a source
// under half a byte per pixel is already heavily compressed, and
// spending quality on it only inflates the output. The requested
// quality acts as a ceiling, never a floor.
func SmartQuality(fileSize int64, width, height, requested int) int {
	if width <= 0 || height <= 0 {
		return requested
	}

	bytesPerPixel := float64(fileSize) / float64(width*height)
	var estimate int
	switch {
	case bytesPerPixel >= 2.0:
		estimate = 95
	case bytesPerPixel >= 1.0:
		estimate = 85
	case bytesPerPixel >= 0.5:
		estimate = 75
	default:
		estimate = 60
	}

	if requested > 0 && requested < estimate {
		return requested
	}
	return estimate
}
