// Package logging provides leveled logging controlled by the LOG_LEVEL and
// DEBUG environment variables. It wraps the standard library logger so all
// output goes through a single configurable sink.
package logging
