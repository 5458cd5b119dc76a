package memory

import (
	"os"
	"runtime/debug"
	"strconv"

	"media-ingest/internal/logging"
)

// DefaultMemoryRatio is the share of container memory given to the Go
// heap. The rest is reserved for ffmpeg pipes, decode buffers outside
// the heap, and goroutine stacks.
const DefaultMemoryRatio = 0.85

// ConfigureFromEnv sets GOMEMLIMIT from the environment. Call it early
// in main, before significant allocations.
//
// GOMEMLIMIT, when set, wins outright. Otherwise MEMORY_LIMIT (the
// container limit in bytes, typically injected via the Kubernetes
// Downward API) is scaled by MEMORY_RATIO and applied.
func ConfigureFromEnv() {
	if v := os.Getenv("GOMEMLIMIT"); v != "" {
		logging.Info("GOMEMLIMIT set via environment: %s", v)
		return
	}

	limitStr := os.Getenv("MEMORY_LIMIT")
	if limitStr == "" {
		logging.Debug("No container memory limit configured; GOMEMLIMIT left unset")
		return
	}
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil || limit <= 0 {
		logging.Warn("Invalid MEMORY_LIMIT=%q, GOMEMLIMIT left unset", limitStr)
		return
	}

	ratio := DefaultMemoryRatio
	if v := os.Getenv("MEMORY_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 && r <= 1 {
			ratio = r
		} else {
			logging.Warn("Invalid MEMORY_RATIO=%q, using %.2f", v, ratio)
		}
	}

	goLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goLimit)
	logging.Info("GOMEMLIMIT set to %d MB (%.0f%% of %d MB container limit)",
		goLimit>>20, ratio*100, limit>>20)
}
