// Package metrics defines the Prometheus metrics exposed by the image
// filter core: index builds, decode timings, thumbnail cache behavior,
// viewport scheduling, and preloading.
package metrics
