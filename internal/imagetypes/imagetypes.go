package imagetypes

import (
	"path/filepath"
	"sort"
	"strings"
)

// SupportedExtensions maps recognized image file extensions to true. The
// extensions are lowercase and include the leading dot.
var SupportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".tiff": true,
	".tif":  true,
	".webp": true,
}

// IsSupported reports whether the file at path has a recognized image
// extension. Matching is case-insensitive.
func IsSupported(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns the recognized extensions in sorted order.
func Extensions() []string {
	exts := make([]string, 0, len(SupportedExtensions))
	for ext := range SupportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
