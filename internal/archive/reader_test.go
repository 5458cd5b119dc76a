package archive

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestZip(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, data := range entries {
		ew, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry: %v", err)
		}
		if _, err := ew.Write(data); err != nil {
			t.Fatalf("failed to write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	return path
}

func writeTestTar(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create tar: %v", err)
	}
	defer f.Close()

	w := tar.NewWriter(f)
	for name, data := range entries {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write tar header: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("failed to write tar entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	return path
}

func TestZipReader(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{
		"page001.jpg":     []byte("first page"),
		"sub/page002.jpg": []byte("second page"),
	})

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	members, err := r.Members()
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}

	rc, err := r.Open("sub/page002.jpg")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "second page" {
		t.Errorf("got %q, want %q", data, "second page")
	}
}

func TestZipReaderMissingMember(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{"a.jpg": []byte("x")})
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Open("nope.jpg"); err == nil {
		t.Error("expected error for missing member")
	}
}

func TestTarReader(t *testing.T) {
	path := writeTestTar(t, map[string][]byte{
		"scan01.png": []byte("content one"),
		"scan02.png": []byte("content two"),
	})

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	members, err := r.Members()
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	for _, m := range members {
		if m.UncompressedSize != 11 {
			t.Errorf("member %s size = %d, want 11", m.Name, m.UncompressedSize)
		}
	}

	rc, err := r.Open("scan02.png")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "content two" {
		t.Errorf("got %q, want %q", data, "content two")
	}
}

func TestOpenReaderUnsupported(t *testing.T) {
	if _, err := OpenReader("/tmp/whatever.gz"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestExtractBytesRegularFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("jpeg bytes"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	e, err := NewFileEntry(dir, "photo.jpg")
	if err != nil {
		t.Fatalf("NewFileEntry failed: %v", err)
	}

	data, err := ExtractBytes(e)
	if err != nil {
		t.Fatalf("ExtractBytes failed: %v", err)
	}
	if string(data) != "jpeg bytes" {
		t.Errorf("got %q, want %q", data, "jpeg bytes")
	}

	size, err := UncompressedSize(e)
	if err != nil {
		t.Fatalf("UncompressedSize failed: %v", err)
	}
	if size != 10 {
		t.Errorf("size = %d, want 10", size)
	}
}

func TestExtractBytesZipMember(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{"page.jpg": []byte("zipped image")})

	e, err := NewMemberEntry(path, "page.jpg")
	if err != nil {
		t.Fatalf("NewMemberEntry failed: %v", err)
	}

	data, err := ExtractBytes(e)
	if err != nil {
		t.Fatalf("ExtractBytes failed: %v", err)
	}
	if string(data) != "zipped image" {
		t.Errorf("got %q, want %q", data, "zipped image")
	}

	size, err := UncompressedSize(e)
	if err != nil {
		t.Fatalf("UncompressedSize failed: %v", err)
	}
	if size != 12 {
		t.Errorf("size = %d, want 12", size)
	}
}
