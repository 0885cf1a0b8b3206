package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"image-filter/internal/logging"
)

// DefaultMemoryRatio is the fraction of the container memory limit given
// to the Go heap. The remainder is reserved for libvips buffers and
// decode scratch space, which live outside the Go heap.
const DefaultMemoryRatio = 0.80

// ConfigResult describes how the memory limit was configured.
type ConfigResult struct {
	// Configured indicates whether GOMEMLIMIT was set.
	Configured bool

	// Source is "GOMEMLIMIT", "MEMORY_LIMIT", or "none".
	Source string

	// GoMemLimit is the configured limit in bytes (0 if not set).
	GoMemLimit int64
}

// ConfigureFromEnv sets GOMEMLIMIT from the container memory limit.
// Call early in main, before large decode allocations.
//
// Environment variables:
//   - GOMEMLIMIT: takes precedence if set (standard Go variable)
//   - MEMORY_LIMIT: container memory limit in bytes
//   - MEMORY_RATIO: fraction of MEMORY_LIMIT for the Go heap (default 0.80)
func ConfigureFromEnv() ConfigResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := ConfigResult{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	limitStr := os.Getenv("MEMORY_LIMIT")
	if limitStr == "" {
		logging.Debug("MEMORY_LIMIT not set, leaving GOMEMLIMIT unconfigured")
		return ConfigResult{Source: "none"}
	}

	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil || limit <= 0 {
		logging.Warn("Invalid MEMORY_LIMIT %q, leaving GOMEMLIMIT unconfigured", limitStr)
		return ConfigResult{Source: "none"}
	}

	ratio := DefaultMemoryRatio
	if ratioStr := os.Getenv("MEMORY_RATIO"); ratioStr != "" {
		parsed, err := strconv.ParseFloat(ratioStr, 64)
		if err == nil && parsed > 0 && parsed <= 1.0 {
			ratio = parsed
		} else {
			logging.Warn("MEMORY_RATIO %q out of range, using default %.2f", ratioStr, DefaultMemoryRatio)
		}
	}

	goLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s container limit)",
		FormatBytes(goLimit), ratio*100, FormatBytes(limit))

	return ConfigResult{Configured: true, Source: "MEMORY_LIMIT", GoMemLimit: goLimit}
}

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
