// Package startup handles configuration loading (environment variables
// layered over an optional TOML file), build information, and structured
// startup logging.
package startup
