// Package debugserver hosts the optional HTTP listener for Prometheus
// metrics and cache occupancy inspection.
package debugserver
