// Package decoder adapts image decoding, resizing and encoding for the
// ingest pipeline.
//
// Decoding tries the imaging library first, then the registered stdlib
// codecs, then falls back to piping the bytes through ffmpeg; the
// fallback catches formats the Go codecs reject. Video dimensions are
// probed with ffprobe and video thumbnails are extracted with ffmpeg,
// so both binaries must be on PATH for video support.
//
// Animated sources (gif, apng, video) are never re-encoded; callers
// detect them via mediatypes.IsAnimated and copy the bytes through.
package decoder
