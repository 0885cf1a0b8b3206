// Package decode turns image files into upright bitmaps at a requested
// size.
//
// Two modes are supported: Full decodes native pixels (bounded by
// MaxWorkingDimension) and Draft permits decode-time shrinking through
// libvips when available, which is far cheaper for large JPEGs when only
// a small thumbnail is needed. Failures are classified so callers can
// substitute a placeholder instead of aborting the browsing session.
package decode
