package memory

import (
	"math"
	"runtime/debug"

	"pixelpress/internal/logging"
	"pixelpress/internal/metrics"
)

const (
	// unitMemoryBytes is the working-set estimate for one encode unit: a
	// fully decoded large source plus codec scratch buffers.
	unitMemoryBytes = 512 * 1024 * 1024

	// unhintedUnits is the memory hint reported when no limit is known.
	// Large enough never to be the binding constraint in pool sizing.
	unhintedUnits = 64
)

// UnitBudget estimates how many concurrent encode units the configured
// memory limit can sustain. Without a limit (no GOMEMLIMIT, no container
// limit) memory does not constrain the pool and a permissive hint is
// returned.
func UnitBudget() int {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit >= math.MaxInt64 {
		return unhintedUnits
	}

	units := int(limit / unitMemoryBytes)
	if units < 1 {
		units = 1
	}
	logging.Debug("memory unit budget: %d units within %s", units, formatBytes(limit))
	return units
}

// UpdateUsage records current heap usage against the limit for observability.
// No-op when no limit is configured.
func UpdateUsage(heapBytes uint64) {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit >= math.MaxInt64 {
		return
	}
	metrics.MemoryUsageRatio.Set(float64(heapBytes) / float64(limit))
}
