// Package handlers provides HTTP request handlers for the optimizer API.
//
// It includes handlers for:
//   - Image optimization (fixed settings and target-size modes)
//   - Format capability reporting
//   - Health, readiness, and liveness checks
//   - Version and build information
package handlers
