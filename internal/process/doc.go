// Package process consumes per-image processing messages. It records
// the image in the collection, probes dimensions when the scan did not
// know them, and fans out one thumbnail and one cache generation
// message. The cache target path is pinned here so every rendition of
// a collection lands on the same cache root.
package process
