package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType represents the classification of a discovered file.
type FileType string

const (
	// FileTypeImage represents a still image file.
	FileTypeImage FileType = "image"
	// FileTypeVideo represents a video file.
	FileTypeVideo FileType = "video"
	// FileTypeArchive represents a compressed archive container.
	FileTypeArchive FileType = "archive"
	// FileTypeOther represents an unknown or unsupported file type.
	FileTypeOther FileType = "other"
)

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
	".svg":  true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".mkv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".3gp":  true,
	".mpg":  true,
	".mpeg": true,
}

// ArchiveExtensions maps file extensions to whether they are supported archive containers.
var ArchiveExtensions = map[string]bool{
	".zip": true,
	".7z":  true,
	".rar": true,
	".tar": true,
	".cbz": true,
	".cbr": true,
}

// animatedExtensions are formats that must never be re-encoded; the
// original bytes are passed through and the extension is preserved.
// The name of a webp file does not say whether it animates, so webp
// is passed through as well.
var animatedExtensions = map[string]bool{
	".gif":  true,
	".apng": true,
	".webp": true,
}

// Ext returns the lowercase extension of name, including the leading dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// GetFileType returns the FileType for a given file name.
// Returns FileTypeOther if the extension is not recognized.
func GetFileType(name string) FileType {
	ext := Ext(name)
	if ImageExtensions[ext] {
		return FileTypeImage
	}
	if VideoExtensions[ext] {
		return FileTypeVideo
	}
	if ArchiveExtensions[ext] {
		return FileTypeArchive
	}
	return FileTypeOther
}

// IsMediaFile returns true if the name has a supported image or video extension.
func IsMediaFile(name string) bool {
	t := GetFileType(name)
	return t == FileTypeImage || t == FileTypeVideo
}

// IsArchiveFile returns true if the name has a supported archive extension.
func IsArchiveFile(name string) bool {
	return ArchiveExtensions[Ext(name)]
}

// IsAnimated reports whether the file is an animated format or a video.
// Animated sources are copied through rather than re-encoded, so the
// output keeps the source extension.
func IsAnimated(name string) bool {
	ext := Ext(name)
	return animatedExtensions[ext] || VideoExtensions[ext]
}

// IsMetadataEntry reports whether an archive member is filesystem
// metadata rather than content (macOS resource forks and the like).
func IsMetadataEntry(entryName string) bool {
	normalized := strings.ReplaceAll(entryName, "\\", "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == "__MACOSX" {
			return true
		}
		if strings.HasPrefix(part, "._") {
			return true
		}
	}
	return normalized == ".DS_Store" || strings.HasSuffix(normalized, "/.DS_Store")
}
