// Package imagetypes defines the set of image file extensions the browser
// recognizes when enumerating a source folder.
package imagetypes
