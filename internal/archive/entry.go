package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DisplaySeparator joins the archive path and the entry name in the
// serialized form of an Entry. It is reserved: neither component may
// contain it.
const DisplaySeparator = "::"

// Entry identifies a single source file, either a regular file on the
// filesystem or a member of a compressed archive.
type Entry struct {
	// ArchivePath is the filesystem path of the archive container,
	// or the containing directory for a regular file.
	ArchivePath string `json:"archivePath"`
	// EntryName is the member name inside the archive, or the
	// filename for a regular file.
	EntryName string `json:"entryName"`
	// EntryPath is the in-archive path of the member (equal to
	// EntryName unless the member sits in a subdirectory).
	EntryPath string `json:"entryPath,omitempty"`
	// CompressedSize is the stored size of the member, when known.
	CompressedSize int64 `json:"compressedSize,omitempty"`
	// UncompressedSize is the extracted size of the member, when known.
	UncompressedSize int64 `json:"uncompressedSize,omitempty"`
	// Member records whether the entry addresses an archive member.
	Member bool `json:"isArchiveMember"`
}

// NewFileEntry creates an Entry for a regular file given its containing
// directory and filename. It fails if either component contains the
// reserved separator.
func NewFileEntry(dir, filename string) (Entry, error) {
	if err := validateComponents(dir, filename); err != nil {
		return Entry{}, err
	}
	return Entry{
		ArchivePath: dir,
		EntryName:   filename,
		EntryPath:   filename,
	}, nil
}

// NewMemberEntry creates an Entry for a member of an archive. It fails
// if either component contains the reserved separator.
func NewMemberEntry(archivePath, entryName string) (Entry, error) {
	if err := validateComponents(archivePath, entryName); err != nil {
		return Entry{}, err
	}
	return Entry{
		ArchivePath: archivePath,
		EntryName:   entryName,
		EntryPath:   entryName,
		Member:      true,
	}, nil
}

func validateComponents(archivePath, entryName string) error {
	if archivePath == "" || entryName == "" {
		return fmt.Errorf("archive entry components must be non-empty")
	}
	if strings.Contains(archivePath, DisplaySeparator) {
		return fmt.Errorf("archive path %q contains reserved separator %q", archivePath, DisplaySeparator)
	}
	if strings.Contains(entryName, DisplaySeparator) {
		return fmt.Errorf("entry name %q contains reserved separator %q", entryName, DisplaySeparator)
	}
	return nil
}

// IsArchiveMember reports whether the entry addresses a member inside
// an archive rather than a regular file.
func (e Entry) IsArchiveMember() bool {
	return e.Member
}

// IsZero reports whether the entry is the zero value.
func (e Entry) IsZero() bool {
	return e.ArchivePath == "" && e.EntryName == ""
}

// DisplayPath returns the serialized form "archivePath::entryName".
func (e Entry) DisplayPath() string {
	return e.ArchivePath + DisplaySeparator + e.EntryName
}

// SourcePath returns the filesystem path of a regular-file entry.
// For archive members it returns the archive container path; callers
// needing member bytes go through ExtractBytes instead.
func (e Entry) SourcePath() string {
	if e.Member {
		return e.ArchivePath
	}
	return filepath.Join(e.ArchivePath, e.EntryName)
}

// ParseDisplayPath parses the serialized form back into an Entry. It
// returns the zero Entry and false unless the input consists of exactly
// two non-empty components separated by the reserved separator.
// Callers must not substitute defaults for a failed parse.
func ParseDisplayPath(s string) (Entry, bool) {
	parts := strings.Split(s, DisplaySeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Entry{}, false
	}
	e, err := NewMemberEntry(parts[0], parts[1])
	if err != nil {
		return Entry{}, false
	}
	return e, true
}
