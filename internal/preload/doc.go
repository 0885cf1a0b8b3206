// Package preload keeps a look-ahead window of full-size images decoded
// during single-image review, so stepping forward never waits on a
// fresh decode in the common case.
package preload
