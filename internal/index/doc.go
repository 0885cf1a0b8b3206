// Package index enumerates a source folder of images and assigns each a
// stable integer identity for the session.
//
// Identity is the entry's position in sorted-path order and is reused as
// the thumbnail cache and grid key. The index is immutable once built;
// files added to the folder afterwards are not observed until a rebuild.
package index
