package archive

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
)

// Member describes one entry of an archive container.
type Member struct {
	Name             string
	CompressedSize   int64
	UncompressedSize int64
	IsDir            bool
}

// Reader enumerates and opens members of an archive container.
// Implementations exist for zip/cbz, tar, 7z and rar/cbr; callers
// never branch on the container format.
type Reader interface {
	// Members lists all entries of the archive, directories included.
	Members() ([]Member, error)
	// Open returns the uncompressed content of the named member.
	Open(name string) (io.ReadCloser, error)
	// Close releases the underlying container.
	Close() error
}

// OpenReader opens the archive at path, picking the reader by file
// extension. It fails for unsupported containers.
func OpenReader(path string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".cbz":
		return openZip(path)
	case ".tar":
		return &tarReader{path: path}, nil
	case ".7z":
		return openSevenZip(path)
	case ".rar", ".cbr":
		return &rarReader{path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", filepath.Ext(path))
	}
}

type zipReader struct {
	rc *zip.ReadCloser
}

func openZip(path string) (*zipReader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip %s: %w", path, err)
	}
	return &zipReader{rc: rc}, nil
}

func (z *zipReader) Members() ([]Member, error) {
	members := make([]Member, 0, len(z.rc.File))
	for _, f := range z.rc.File {
		members = append(members, Member{
			Name:             f.Name,
			CompressedSize:   int64(f.CompressedSize64),
			UncompressedSize: int64(f.UncompressedSize64),
			IsDir:            f.FileInfo().IsDir(),
		})
	}
	return members, nil
}

func (z *zipReader) Open(name string) (io.ReadCloser, error) {
	for _, f := range z.rc.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("zip member not found: %s", name)
}

func (z *zipReader) Close() error {
	return z.rc.Close()
}

// tarReader re-scans the tape archive for each operation; tar has no
// central directory.
type tarReader struct {
	path string
}

func (t *tarReader) Members() ([]Member, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tar %s: %w", t.path, err)
	}
	defer f.Close()

	var members []Member
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar %s: %w", t.path, err)
		}
		members = append(members, Member{
			Name:             hdr.Name,
			UncompressedSize: hdr.Size,
			IsDir:            hdr.Typeflag == tar.TypeDir,
		})
	}
	return members, nil
}

func (t *tarReader) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tar %s: %w", t.path, err)
	}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read tar %s: %w", t.path, err)
		}
		if hdr.Name == name {
			return &memberReadCloser{Reader: tr, closer: f}, nil
		}
	}
	f.Close()
	return nil, fmt.Errorf("tar member not found: %s", name)
}

func (t *tarReader) Close() error {
	return nil
}

type sevenZipReader struct {
	rc *sevenzip.ReadCloser
}

func openSevenZip(path string) (*sevenZipReader, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z %s: %w", path, err)
	}
	return &sevenZipReader{rc: rc}, nil
}

func (s *sevenZipReader) Members() ([]Member, error) {
	members := make([]Member, 0, len(s.rc.File))
	for _, f := range s.rc.File {
		info := f.FileInfo()
		members = append(members, Member{
			Name:             f.Name,
			UncompressedSize: info.Size(),
			IsDir:            info.IsDir(),
		})
	}
	return members, nil
}

func (s *sevenZipReader) Open(name string) (io.ReadCloser, error) {
	for _, f := range s.rc.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("7z member not found: %s", name)
}

func (s *sevenZipReader) Close() error {
	return s.rc.Close()
}

// rarReader re-opens the archive per operation; rardecode exposes a
// sequential reader only.
type rarReader struct {
	path string
}

func (r *rarReader) Members() ([]Member, error) {
	rc, err := rardecode.OpenReader(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rar %s: %w", r.path, err)
	}
	defer rc.Close()

	var members []Member
	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rar %s: %w", r.path, err)
		}
		members = append(members, Member{
			Name:             hdr.Name,
			UncompressedSize: hdr.UnPackedSize,
			IsDir:            hdr.IsDir,
		})
	}
	return members, nil
}

func (r *rarReader) Open(name string) (io.ReadCloser, error) {
	rc, err := rardecode.OpenReader(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rar %s: %w", r.path, err)
	}
	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to read rar %s: %w", r.path, err)
		}
		if hdr.Name == name {
			return &memberReadCloser{Reader: rc, closer: rc}, nil
		}
	}
	rc.Close()
	return nil, fmt.Errorf("rar member not found: %s", name)
}

func (r *rarReader) Close() error {
	return nil
}

// memberReadCloser pairs a member's content stream with the container
// handle that must be closed when the caller is done.
type memberReadCloser struct {
	io.Reader
	closer io.Closer
}

func (m *memberReadCloser) Close() error {
	return m.closer.Close()
}
