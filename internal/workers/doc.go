// Package workers sizes the decode worker pools from the number of
// available CPUs.
//
// GOMAXPROCS is used rather than runtime.NumCPU so container CPU limits
// are respected (Go 1.19+ sets GOMAXPROCS from cgroup constraints). The
// DECODE_WORKERS environment variable overrides the computed count.
package workers
