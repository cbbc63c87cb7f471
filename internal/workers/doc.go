/*
Package workers provides utilities for determining optimal worker pool sizes
in containerized environments.

# Overview

When running Go applications in containers (Docker, Kubernetes, etc.), the
number of available CPUs may be limited by cgroup constraints. While Go 1.19+
automatically sets GOMAXPROCS based on container CPU limits, the commonly used
runtime.NumCPU() function still returns the host machine's CPU count.

This package provides helper functions that use GOMAXPROCS to determine
appropriate worker counts for different types of workloads, ensuring the
application respects container resource limits.

# Basic Usage

The package provides task-specific helper functions:

	import "pixelpress/internal/workers"

	// For CPU-intensive tasks (image decode, resize, encode)
	// Uses 1 worker per available CPU
	numWorkers := workers.ForCPU(8) // max 8 workers

	// For I/O-bound tasks (reading sources, writing outputs)
	// Uses 2 workers per available CPU
	numWorkers := workers.ForIO(16) // max 16 workers

	// For mixed workloads (read file, encode, write result)
	// Uses 1.5 workers per available CPU
	numWorkers := workers.ForMixed(12) // max 12 workers

# Custom Configuration

For fine-grained control, use the Count function directly:

	// 3 workers per CPU, maximum of 24
	numWorkers := workers.Count(3.0, 24)

	// No maximum (use 0)
	numWorkers := workers.Count(2.0, 0)

# Environment Variable Override

All functions respect the PIXELPRESS_WORKERS environment variable, allowing
operators to override the automatic calculation:

	# In Kubernetes deployment
	env:
	- name: PIXELPRESS_WORKERS
	  value: "4"

This is useful for:
  - Fine-tuning performance in specific environments
  - Debugging resource issues
  - Temporarily limiting concurrency

# Pool Sizing

The encode pool additionally consults CPUHint, which is the raw GOMAXPROCS
value. The pool combines it with a memory-derived hint and the queued item
count; see the pool package for the exact formula.
*/
package workers
