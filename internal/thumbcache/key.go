package thumbcache

import (
	"encoding/binary"
	"fmt"

	"image-filter/internal/decode"
	"image-filter/internal/index"

	"github.com/cespare/xxhash/v2"
)

// Key fingerprints one cached thumbnail variant. Any change to the
// underlying file (size, modification time) or to the requested
// dimensions produces a different key, so the cache can never serve
// stale pixels.
type Key struct {
	Path      string
	FileSize  int64
	ModTimeNS int64
	TargetW   int
	TargetH   int
}

// KeyFor derives the cache key for an index entry at a target size.
func KeyFor(e index.Entry, target decode.Size) Key {
	return Key{
		Path:      e.Path,
		FileSize:  e.Size,
		ModTimeNS: e.ModTime.UnixNano(),
		TargetW:   target.Width,
		TargetH:   target.Height,
	}
}

// Digest returns a 64-bit hash of the key fields, used as the map and
// on-disk primary key. The full fields are stored alongside so a hash
// collision is detected by comparison, never trusted.
func (k Key) Digest() uint64 {
	h := xxhash.New()
	h.WriteString(k.Path)

	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(k.FileSize))
	binary.LittleEndian.PutUint64(buf[8:], uint64(k.ModTimeNS))
	binary.LittleEndian.PutUint64(buf[16:], uint64(k.TargetW))
	binary.LittleEndian.PutUint64(buf[24:], uint64(k.TargetH))
	h.Write(buf[:])

	return h.Sum64()
}

// String renders the key for log lines.
func (k Key) String() string {
	return fmt.Sprintf("%s@%dx%d", k.Path, k.TargetW, k.TargetH)
}
