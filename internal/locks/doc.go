// Package locks provides a non-blocking per-item mutual-exclusion set
// used to serialize conflicting operations on the same logical item.
package locks
