// Package metrics defines the Prometheus collectors exported by pixelpress:
// encode attempt counts and durations, target-size search behavior, worker
// pool health, batch outcomes and HTTP traffic. Collectors are registered
// with the default registry at package load via promauto.
package metrics
