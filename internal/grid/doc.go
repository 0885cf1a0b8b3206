// Package grid maps image identities to thumbnail grid cells and back.
//
// The mapping is pure geometry over a Layout value; it is independent of
// which cells currently have resident thumbnails, which is what lets the
// rendering layer draw only what is loaded.
package grid
