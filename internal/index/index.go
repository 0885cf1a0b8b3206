package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"image-filter/internal/imagetypes"
	"image-filter/internal/logging"
	"image-filter/internal/metrics"
)

// ErrFolderNotFound reports that the source path is missing or not a
// directory. It is the only fatal error class in the core.
var ErrFolderNotFound = errors.New("folder not found")

// Decision is the review outcome for an image.
type Decision int

const (
	// Pending means the image has not been reviewed yet.
	Pending Decision = iota
	// Kept means the image was marked for copying to the destination.
	Kept
	// Skipped means the image was reviewed and passed over.
	Skipped
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case Kept:
		return "kept"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Entry is one image in the index. ID is the entry's position in the
// stable path-sorted enumeration and doubles as the grid and cache key.
type Entry struct {
	ID      int
	Path    string
	Size    int64
	ModTime time.Time
}

// Index is the immutable enumeration of a source folder. Membership and
// ordering never change for the session; only decisions are mutable.
type Index struct {
	folder  string
	entries []Entry

	mu        sync.RWMutex
	decisions []Decision
}

// Build enumerates folder, keeps files with supported image extensions,
// and assigns identities in stable sorted-path order.
func Build(folder string) (*Index, error) {
	start := time.Now()

	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
	}

	dirEntries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !imagetypes.IsSupported(de.Name()) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			logging.Warn("Skipping %s: %v", de.Name(), err)
			continue
		}
		entries = append(entries, Entry{
			Path:    filepath.Join(folder, de.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	for i := range entries {
		entries[i].ID = i
	}

	metrics.IndexBuildDuration.Set(time.Since(start).Seconds())
	metrics.IndexImagesTotal.Set(float64(len(entries)))
	logging.Info("Indexed %d images in %s (%v)", len(entries), folder, time.Since(start))

	return &Index{
		folder:    folder,
		entries:   entries,
		decisions: make([]Decision, len(entries)),
	}, nil
}

// Folder returns the indexed source folder.
func (ix *Index) Folder() string {
	return ix.folder
}

// Len returns the number of indexed images.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Lookup returns the entry for an identity.
func (ix *Index) Lookup(id int) (Entry, bool) {
	if id < 0 || id >= len(ix.entries) {
		return Entry{}, false
	}
	return ix.entries[id], true
}

// Entries returns the stable, path-ordered entry slice. Callers must not
// modify it.
func (ix *Index) Entries() []Entry {
	return ix.entries
}

// Decision returns the review decision for an identity.
func (ix *Index) Decision(id int) Decision {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if id < 0 || id >= len(ix.decisions) {
		return Pending
	}
	return ix.decisions[id]
}

// SetDecision records the review decision for an identity.
func (ix *Index) SetDecision(id int, d Decision) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if id < 0 || id >= len(ix.decisions) {
		return false
	}
	ix.decisions[id] = d
	return true
}

// CountDecision returns how many entries carry the given decision.
func (ix *Index) CountDecision(d Decision) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, got := range ix.decisions {
		if got == d {
			n++
		}
	}
	return n
}
