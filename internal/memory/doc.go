// Package memory configures the Go runtime memory limit from container
// environment variables so large image decodes do not push the process
// past its cgroup limit.
package memory
