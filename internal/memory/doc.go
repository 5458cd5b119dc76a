// Package memory configures the Go heap limit from the container
// memory limit. Decode buffers for large sources spike allocation; a
// GOMEMLIMIT below the cgroup limit lets the GC absorb the spike
// instead of the OOM killer.
package memory
