// Package jobs tracks background-job progress for the ingest pipeline
// and classifies processing errors.
//
// Two orthogonal trackers cover the accounting: the StageTracker moves
// the coarse scan/thumbnail/cache counters of a background job, and the
// StateTracker moves the fine-grained per-collection job states whose
// counters drive completion detection.
//
// The error taxonomy decides message fate: poison errors are terminal
// for one image (the message is acked and a dummy artifact entry
// records the failure), transient errors requeue the message, and
// size-limit violations fail the image without a retry.
package jobs
