package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the number of concurrent workers for a task type.
// GOMAXPROCS reflects container CPU limits since Go 1.19, so the
// result adapts to the deployment without configuration.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks (decode, resize)
//   - 2.0 for I/O-bound tasks (archive reads, store writes)
//   - 1.5 for mixed tasks
//
// The limit parameter caps the result; 0 means no cap. The
// INGEST_WORKERS environment variable overrides the computation.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv("INGEST_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns the worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns the worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed returns the worker count for mixed tasks (1.5 per CPU).
func ForMixed(limit int) int {
	return Count(1.5, limit)
}
