package workers

import (
	"runtime"
)

// Count returns multiplier workers per available CPU, at least one and at
// most limit (0 = no cap). It reads GOMAXPROCS, which the runtime sets from
// the container CPU quota.
func Count(multiplier float64, limit int) int {
	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns one worker per available CPU, capped at limit.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// Resolve returns the configured count when an operator set one and
// otherwise the CPU-derived count. Both are capped at limit.
func Resolve(configured int, multiplier float64, limit int) int {
	if configured > 0 {
		if limit > 0 && configured > limit {
			return limit
		}
		return configured
	}
	return Count(multiplier, limit)
}
