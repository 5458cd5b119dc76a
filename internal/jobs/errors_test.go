package jobs

import (
	"archive/zip"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"testing"
)

func TestAsPoisonExplicitWrap(t *testing.T) {
	err := Poison(ErrorDecodeFailed, errors.New("bad huffman table"))

	typ, ok := AsPoison(err)
	if !ok || typ != ErrorDecodeFailed {
		t.Errorf("AsPoison = (%s, %v), want (DecodeFailed, true)", typ, ok)
	}

	wrapped := fmt.Errorf("processing image: %w", err)
	typ, ok = AsPoison(wrapped)
	if !ok || typ != ErrorDecodeFailed {
		t.Errorf("AsPoison through wrap = (%s, %v), want (DecodeFailed, true)", typ, ok)
	}
}

func TestAsPoisonWellKnownErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"NotExist", fs.ErrNotExist, ErrorFileNotFound},
		{"WrappedNotExist", fmt.Errorf("open: %w", fs.ErrNotExist), ErrorFileNotFound},
		{"Permission", fs.ErrPermission, ErrorUnauthorized},
		{"ZipFormat", zip.ErrFormat, ErrorCorruptedArchive},
		{"ZipChecksum", zip.ErrChecksum, ErrorCorruptedArchive},
		{"ImageFormat", image.ErrFormat, ErrorBadImageFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, ok := AsPoison(tt.err)
			if !ok || typ != tt.expected {
				t.Errorf("AsPoison(%v) = (%s, %v), want (%s, true)", tt.err, typ, ok, tt.expected)
			}
		})
	}
}

func TestTransientNotPoison(t *testing.T) {
	transient := []error{
		errors.New("connection reset by peer"),
		fmt.Errorf("store unavailable: %w", errors.New("timeout")),
	}
	for _, err := range transient {
		if typ, ok := AsPoison(err); ok {
			t.Errorf("transient error %v classified as poison %s", err, typ)
		}
	}
}

func TestIsSizeLimit(t *testing.T) {
	err := Poisonf(ErrorSizeLimit, "source is %d bytes", 1<<40)
	if !IsSizeLimit(err) {
		t.Error("size-limit error not recognized")
	}
	if IsSizeLimit(Poison(ErrorDecodeFailed, errors.New("x"))) {
		t.Error("decode failure misclassified as size limit")
	}
	if IsSizeLimit(errors.New("random")) {
		t.Error("plain error misclassified as size limit")
	}
}
