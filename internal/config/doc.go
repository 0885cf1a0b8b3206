// Package config loads session configuration from an optional YAML file
// and environment variables, and derives the per-source cache directory.
package config
