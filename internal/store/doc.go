// Package store persists optimize job history in SQLite so repeated runs
// over the same inputs can skip work that already succeeded.
package store
