// Package store is the data store adapter for the ingest pipeline,
// backed by SQLite.
//
// Collections own three append-mostly lists (images, thumbnails, cache
// renditions), each kept in its own table keyed by collection and image
// id. Batch appends run in a single transaction so all members of a
// batch become visible together. Every counter in the schema (cache
// folder usage, job stage progress, per-file job state counts) is
// mutated exclusively through SQL increments; the package never
// read-modify-writes a counter.
package store
