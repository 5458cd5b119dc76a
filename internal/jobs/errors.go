package jobs

import (
	"archive/zip"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"syscall"
)

// ErrorType names one terminal failure kind. The values appear in
// dummy artifact entries and in job-state error summaries.
type ErrorType string

const (
	ErrorDecodeFailed      ErrorType = "DecodeFailed"
	ErrorFileNotFound      ErrorType = "FileNotFound"
	ErrorUnsupportedFormat ErrorType = "UnsupportedFormat"
	ErrorCorruptedArchive  ErrorType = "CorruptedArchive"
	ErrorPathTooLong       ErrorType = "PathTooLong"
	ErrorUnauthorized      ErrorType = "Unauthorized"
	ErrorBadImageFormat    ErrorType = "BadImageFormat"
	ErrorSizeLimit         ErrorType = "SizeLimitExceeded"
	ErrorStorageFailure    ErrorType = "StorageFailure"
)

// PoisonError marks an error as terminal for the image it concerns:
// retrying can never succeed, so the message is acked and the failure
// is recorded instead.
type PoisonError struct {
	Type ErrorType
	Err  error
}

func (e *PoisonError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *PoisonError) Unwrap() error {
	return e.Err
}

// Poison wraps an error as terminal with the given kind.
func Poison(t ErrorType, err error) error {
	return &PoisonError{Type: t, Err: err}
}

// Poisonf is Poison with formatting.
func Poisonf(t ErrorType, format string, args ...interface{}) error {
	return &PoisonError{Type: t, Err: fmt.Errorf(format, args...)}
}

// AsPoison reports whether the error is terminal and returns its kind.
// Beyond explicit wrapping, a closed set of well-known error values
// (missing files, permission failures, codec rejections, corrupt
// archives, over-long paths) classifies as poison; everything else is
// treated as transient and will be retried by the broker.
func AsPoison(err error) (ErrorType, bool) {
	var pe *PoisonError
	if errors.As(err, &pe) {
		return pe.Type, true
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrorFileNotFound, true
	case errors.Is(err, fs.ErrPermission):
		return ErrorUnauthorized, true
	case errors.Is(err, zip.ErrFormat), errors.Is(err, zip.ErrChecksum):
		return ErrorCorruptedArchive, true
	case errors.Is(err, image.ErrFormat):
		return ErrorBadImageFormat, true
	case errors.Is(err, syscall.ENAMETOOLONG):
		return ErrorPathTooLong, true
	}
	return "", false
}

// IsSizeLimit reports whether the error is a size-limit violation.
// Size-limit failures ack like poison but thumbnails record no dummy
// entry for them.
func IsSizeLimit(err error) bool {
	t, ok := AsPoison(err)
	return ok && t == ErrorSizeLimit
}
