// Package viewport schedules thumbnail loads against the visible grid
// range plus a prefetch margin.
//
// A priority queue orders work nearest-to-viewport-center first, and
// requests that scroll out of range are deprioritized rather than
// killed, so completed decodes always land in the cache. Completions
// arrive on a channel keyed by identity, in whatever order the worker
// pool finishes them.
package viewport
