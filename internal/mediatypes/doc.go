// Package mediatypes defines the closed sets of media and archive file
// extensions the pipeline accepts, and classifies files by extension.
//
// Supported file types:
//   - Images: jpg, jpeg, png, gif, bmp, tiff, webp, svg
//   - Videos: mp4, avi, mov, wmv, mkv, flv, webm, m4v, 3gp, mpg, mpeg
//   - Archives: zip, 7z, rar, tar, cbz, cbr
//
// Files with any other extension are ignored by the scanner.
package mediatypes
