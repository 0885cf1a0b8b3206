package keep

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"image-filter/internal/index"
	"image-filter/internal/logging"
)

// Copier copies kept originals into the destination folder and records
// the decision on the index.
type Copier struct {
	dest string
	idx  *index.Index
}

// NewCopier builds a copier targeting dest. The directory is created on
// first use.
func NewCopier(dest string, idx *index.Index) *Copier {
	return &Copier{dest: dest, idx: idx}
}

// Keep copies the original file for id into the destination folder,
// preserving the filename and modification time, and marks the entry
// Kept. Name collisions resolve by appending _1, _2, ... before the
// extension. Returns the destination path.
func (c *Copier) Keep(id int) (string, error) {
	entry, ok := c.idx.Lookup(id)
	if !ok {
		return "", fmt.Errorf("identity %d out of range", id)
	}

	if err := os.MkdirAll(c.dest, 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}

	dst, err := copyUnique(entry.Path, c.dest)
	if err != nil {
		return "", err
	}
	if err := os.Chtimes(dst, time.Now(), entry.ModTime); err != nil {
		logging.Warn("Failed to preserve mtime on %s: %v", dst, err)
	}

	c.idx.SetDecision(id, index.Kept)
	logging.Debug("Kept %s -> %s", entry.Path, dst)
	return dst, nil
}

// Skip marks the entry Skipped without touching the filesystem.
func (c *Copier) Skip(id int) error {
	if !c.idx.SetDecision(id, index.Skipped) {
		return fmt.Errorf("identity %d out of range", id)
	}
	return nil
}

// copyUnique copies src into destDir under its own basename, probing
// name_1.ext, name_2.ext, ... until an unused name is found.
func copyUnique(src, destDir string) (string, error) {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 0; ; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		dst := filepath.Join(destDir, name)

		err := copyFile(src, dst)
		if err == nil {
			return dst, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("copy %s: %w", src, err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// O_EXCL makes collision probing race-free.
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
