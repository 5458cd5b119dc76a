// Package scan discovers the media files of a collection and fans the
// work out to the processing queues.
//
// A folder collection is enumerated one level deep: subdirectories and
// archive files are skipped because they are collections of their own.
// An archive collection is enumerated through its member list without
// extracting anything. Discovered videos bypass the image pipeline and
// get direct-reference artifact entries immediately; everything else
// is queued for per-image processing.
//
// The package also hosts the collection-creation, library-scan and
// bulk-operation consumers, which all terminate in a collection scan.
package scan
