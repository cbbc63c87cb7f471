package pool

import (
	"pixelpress/internal/memory"
	"pixelpress/internal/workers"
)

const (
	// minUnits keeps at least two units alive so one faulting unit never
	// serializes the whole pool.
	minUnits = 2
	// hardCap bounds the pool regardless of hardware.
	hardCap = 16
)

// TargetSize computes the pool size for a workload: enough units for the
// queued items within the CPU and memory hints, never fewer than minCount
// or the floor of two, never more than the hard cap intersected with the
// CPU hint. The floor wins over the cap.
func TargetSize(minCount, itemCount, cpuHint, memHint int) int {
	n := itemCount
	if cpuHint < n {
		n = cpuHint
	}
	if memHint < n {
		n = memHint
	}
	if minCount > n {
		n = minCount
	}
	if n < minUnits {
		n = minUnits
	}

	upper := hardCap
	if cpuHint < upper {
		upper = cpuHint
	}
	if n > upper {
		n = upper
	}
	if n < minUnits {
		n = minUnits
	}
	return n
}

func detectCPUHint() int {
	return workers.CPUHint()
}

func detectMemHint() int {
	return memory.UnitBudget()
}
