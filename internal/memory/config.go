package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"mediaref/internal/logging"
)

// DefaultRatio is the share of the container limit given to the Go heap.
// The rest is left for libvips buffers and goroutine stacks.
const DefaultRatio = 0.85

// Limit describes the soft memory limit in effect.
type Limit struct {
	// Configured is true when a limit is in effect.
	Configured bool

	// Source is "GOMEMLIMIT", "container" or "none".
	Source string

	// ContainerLimit is the container memory limit in bytes (0 if unknown).
	ContainerLimit int64

	// GoMemLimit is the Go soft memory limit in bytes (0 if not set).
	GoMemLimit int64

	Ratio float64
}

// Configure sets the Go soft memory limit to ratio of containerLimit.
// An explicit GOMEMLIMIT in the environment always wins. Call it early,
// before significant allocations.
func Configure(containerLimit int64, ratio float64) Limit {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := Limit{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	if containerLimit <= 0 {
		logging.Debug("No container memory limit, GOMEMLIMIT left unset")
		return Limit{Source: "none"}
	}

	if ratio <= 0 || ratio > 1 {
		logging.Warn("Memory ratio %.2f out of range (0.0-1.0], using default %.2f", ratio, DefaultRatio)
		ratio = DefaultRatio
	}

	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s container limit)",
		formatBytes(goMemLimit), ratio*100, formatBytes(containerLimit))

	return Limit{
		Configured:     true,
		Source:         "container",
		ContainerLimit: containerLimit,
		GoMemLimit:     goMemLimit,
		Ratio:          ratio,
	}
}

func formatBytes(b int64) string {
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
