// Package middleware provides HTTP middleware for request logging (W3C
// Extended Log Format) and Prometheus instrumentation.
package middleware
