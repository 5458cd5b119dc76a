package archive

import (
	"fmt"
	"io"

	"media-ingest/internal/filesystem"
	"media-ingest/internal/logging"
)

// ExtractBytes returns the full content of the source addressed by the
// entry. Regular files are read from disk; archive members are
// decompressed from their container.
func ExtractBytes(e Entry) ([]byte, error) {
	if !e.IsArchiveMember() {
		data, err := filesystem.ReadFileWithRetry(e.SourcePath(), filesystem.DefaultRetryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.SourcePath(), err)
		}
		return data, nil
	}

	r, err := OpenReader(e.ArchivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rc, err := r.Open(e.EntryName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", e.DisplayPath(), err)
	}
	logging.Debug("Extracted %d bytes from %s", len(data), e.DisplayPath())
	return data, nil
}

// UncompressedSize returns the extracted size of the source addressed
// by the entry without reading its content. For archive members whose
// size is not recorded on the entry, the container's member table is
// consulted.
func UncompressedSize(e Entry) (int64, error) {
	if !e.IsArchiveMember() {
		info, err := filesystem.StatWithRetry(e.SourcePath(), filesystem.DefaultRetryConfig())
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", e.SourcePath(), err)
		}
		return info.Size(), nil
	}

	if e.UncompressedSize > 0 {
		return e.UncompressedSize, nil
	}

	r, err := OpenReader(e.ArchivePath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	members, err := r.Members()
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if m.Name == e.EntryName {
			return m.UncompressedSize, nil
		}
	}
	return 0, fmt.Errorf("archive member not found: %s", e.DisplayPath())
}
