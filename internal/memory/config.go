package memory

import (
	"os"
	"runtime/debug"
	"strconv"

	"media-pipeline/internal/logging"
)

// DefaultRatio is the share of the container limit given to the Go heap.
// The rest is left for ffmpeg, libvips and goroutine stacks.
const DefaultRatio = 0.85

// ConfigResult describes what Configure did.
type ConfigResult struct {
	Configured     bool
	Source         string // "GOMEMLIMIT", "MEMORY_LIMIT" or "none"
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// Configure sets the runtime soft memory limit to containerLimit*ratio.
// An explicit GOMEMLIMIT in the environment always wins, and a zero
// containerLimit leaves the runtime untouched. Call it before heavy
// allocation starts.
func Configure(containerLimit int64, ratio float64) ConfigResult {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		result := ConfigResult{Source: "GOMEMLIMIT"}
		if limit := debug.SetMemoryLimit(-1); limit > 0 {
			result.Configured = true
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	if containerLimit <= 0 {
		logging.Debug("No container memory limit, GOMEMLIMIT not configured")
		return ConfigResult{Source: "none"}
	}

	if ratio <= 0 || ratio > 1 {
		logging.Warn("Memory ratio %.2f out of range (0.0-1.0), using default %.2f", ratio, DefaultRatio)
		ratio = DefaultRatio
	}

	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.1f%% of %s container limit)",
		formatBytes(goMemLimit), ratio*100, formatBytes(containerLimit))

	return ConfigResult{
		Configured:     true,
		Source:         "MEMORY_LIMIT",
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
