// Package archive provides a uniform way to address media files that
// live either directly on the filesystem or inside a compressed
// archive, and readers for the supported archive containers.
//
// An Entry identifies one source file. For a regular file the entry
// holds the containing directory and the filename; for an archive
// member it holds the archive path and the in-archive entry name. The
// serialized display form is "archivePath::entryName"; the "::"
// separator is illegal in both Windows and Unix filenames, which makes
// the encoding lossless without escaping.
//
// Supported containers: zip, 7z, rar, tar, cbz, cbr. Callers obtain a
// Reader via OpenReader and never branch on the container format.
package archive
