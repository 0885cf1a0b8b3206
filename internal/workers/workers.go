package workers

import (
	"os"
	"runtime"
	"strconv"
)

// envOverride names the environment variable that forces a fixed worker
// count regardless of available CPUs.
const envOverride = "DECODE_WORKERS"

// Count returns the number of workers to use for decode/resize work.
//
// The multiplier adjusts for task characteristics: 1.0 for CPU-bound
// decoding, 2.0 for I/O-heavy work, something in between for mixed loads.
// GOMAXPROCS is used as the CPU count so container limits are respected.
// A limit of 0 means unbounded.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(envOverride); override != "" {
		if n, err := strconv.Atoi(override); err == nil && n > 0 {
			return clamp(n, limit)
		}
	}

	n := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if n < 1 {
		n = 1
	}
	return clamp(n, limit)
}

func clamp(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

// ForCPU returns a worker count for CPU-bound work (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns a worker count for I/O-bound work (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}
