// Package reconcile repairs background jobs whose progress counters
// fell behind reality.
//
// Progress updates travel through batched commits and can be lost to a
// crash after the underlying artifacts were already written. The
// reconciler periodically re-derives stage progress from the artifact
// counts in the store, which are the ground truth, and completes jobs
// whose work is demonstrably done.
package reconcile
