// Package limiter runs a batch of tasks with a bound on how many are in
// flight at once, preserving submission order in the returned results.
package limiter
