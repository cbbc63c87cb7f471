/*
Package memory manages Go runtime memory limits and derives memory-based
sizing hints for the encode pool.

# GOMEMLIMIT Configuration

ConfigureFromEnv sets GOMEMLIMIT from container metadata so the Go runtime
garbage-collects before the container OOM-kills the process:

	result := memory.ConfigureFromEnv()
	if result.Configured {
		logging.Info("memory limit: %d bytes", result.GoMemLimit)
	}

Precedence: an explicit GOMEMLIMIT environment variable wins; otherwise
MEMORY_LIMIT (bytes, typically injected via the Kubernetes Downward API)
scaled by MEMORY_RATIO (default 0.85). The reserved fraction covers
allocations the Go heap accounting does not see, chiefly libvips pixel
buffers.

# Pool Sizing Hint

UnitBudget translates the effective memory limit into a count of encode
units the process can run side by side, assuming each unit may hold one
fully decoded large image plus codec scratch space. The pool combines this
hint with CPU count and queue depth; see the pool package.
*/
package memory
