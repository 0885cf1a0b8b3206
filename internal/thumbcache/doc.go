// Package thumbcache stores decoded thumbnails across two tiers: a
// strict-LRU in-memory tier for the live session and a SQLite disk tier
// that survives restarts.
//
// Keys fingerprint the source file's path, size, and modification time
// together with the requested dimensions, so edited files and changed
// thumbnail sizes invalidate lazily instead of being purged eagerly.
// Concurrent misses for the same key coalesce onto a single decode.
package thumbcache
