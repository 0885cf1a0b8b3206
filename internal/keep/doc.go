// Package keep performs the copy-on-keep operation: the original file,
// never the thumbnail, lands in the destination folder when the user
// marks an image Kept.
package keep
