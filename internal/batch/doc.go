// Package batch implements the artifact-generating queue consumers.
//
// Thumbnail and cache generation both decode per message but commit
// per collection: generated artifacts accumulate in an in-memory batch
// keyed by collection id, and a batch is flushed as one atomic store
// append when it reaches the size limit, when it ages out, or on
// drain. A flush that never happens (crash) leaves no partial state;
// the reconciler re-derives stage progress from the committed counts.
package batch
