// Package batch orchestrates optimize runs over many items: per-item
// locking, bounded concurrency, dispatch through the worker pool, and job
// history records. One item's failure never aborts the rest.
package batch
