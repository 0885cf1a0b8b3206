package thumbcache

import (
	"bytes"
	"container/list"
	"image"
	"strconv"
	"sync"
	"time"

	"image-filter/internal/decode"
	"image-filter/internal/index"
	"image-filter/internal/logging"
	"image-filter/internal/metrics"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"
)

// Decoder produces a bitmap for a path at a target size. Injected so
// tests can count and gate decodes; production wiring passes
// decode.Decode.
type Decoder func(path string, target decode.Size, mode decode.Mode) (image.Image, error)

// Options bound the cache tiers.
type Options struct {
	MaxEntries   int   // in-memory entry budget
	MaxBytes     int64 // in-memory byte budget (approximate pixel bytes)
	DiskMaxBytes int64 // disk-tier byte budget, applied at Persist time
}

type entry struct {
	key     Key
	digest  uint64
	img     image.Image
	encoded []byte // JPEG bytes destined for the disk tier; nil for memory-only deposits
	bytes   int64
	dirty   bool
}

// Cache is the two-tier thumbnail cache. The memory tier is a strict
// LRU bounded by entry count and bytes; the disk tier is consulted
// per key on a memory miss and written only at flush points. Concurrent
// requests for the same key coalesce onto a single decode.
type Cache struct {
	decoder Decoder
	opts    Options

	group singleflight.Group

	mu      sync.Mutex
	entries map[uint64]*list.Element
	lru     *list.List // front is most recently used
	bytes   int64
	spill   map[uint64]Row      // dirty entries evicted before a flush
	touched map[uint64]struct{} // disk rows served since the last flush
	store   *Store
}

// New builds a memory-only cache. Attach the disk tier with
// LoadPersisted.
func New(decoder Decoder, opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 256 << 20
	}
	if opts.DiskMaxBytes <= 0 {
		opts.DiskMaxBytes = 1 << 30
	}
	return &Cache{
		decoder: decoder,
		opts:    opts,
		entries: make(map[uint64]*list.Element),
		lru:     list.New(),
		spill:   make(map[uint64]Row),
		touched: make(map[uint64]struct{}),
	}
}

// LoadPersisted attaches the on-disk tier stored under dir. On failure
// the cache stays memory-only for the session; the caller logs and
// continues.
func (c *Cache) LoadPersisted(dir string) error {
	store, err := OpenStore(dir)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.store = store
	c.mu.Unlock()

	if n, err := store.Count(); err == nil {
		logging.Info("Thumbnail disk tier attached (%d entries)", n)
	}
	return nil
}

// GetOrCreate returns the thumbnail for an entry at the target size,
// decoding it in Draft mode on a miss. At most one decode is in flight
// per key; concurrent callers share the result.
func (c *Cache) GetOrCreate(e index.Entry, target decode.Size) (image.Image, error) {
	key := KeyFor(e, target)
	digest := key.Digest()

	if img, ok := c.lookupMemory(digest, key); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return img, nil
	}

	v, err, shared := c.group.Do(strconv.FormatUint(digest, 16), func() (interface{}, error) {
		// A waiter released just before us may have populated the tier.
		if img, ok := c.lookupMemory(digest, key); ok {
			metrics.CacheHits.WithLabelValues("memory").Inc()
			return img, nil
		}

		if img, ok := c.lookupDisk(digest, key); ok {
			metrics.CacheHits.WithLabelValues("disk").Inc()
			return img, nil
		}

		metrics.CacheMisses.Inc()
		img, err := c.decoder(key.Path, target, decode.Draft)
		if err != nil {
			return nil, err
		}

		encoded, encErr := encodeJPEG(img)
		if encErr != nil {
			logging.Warn("Failed to encode thumbnail for %s: %v", key, encErr)
			encoded = nil
		}
		c.insert(key, digest, img, encoded, encoded != nil)
		return img, nil
	})
	if shared {
		metrics.CacheCoalescedWaits.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

// Put deposits an already-decoded bitmap into the memory tier. Used by
// the preloader so a completed decode is never wasted; these entries
// are not persisted.
func (c *Cache) Put(e index.Entry, target decode.Size, img image.Image) {
	key := KeyFor(e, target)
	c.insert(key, key.Digest(), img, nil, false)
}

// Cached is the non-blocking lookup: it returns the bitmap only if it
// is resident in the memory tier, never touching disk or decoding.
func (c *Cache) Cached(e index.Entry, target decode.Size) (image.Image, bool) {
	key := KeyFor(e, target)
	return c.lookupMemory(key.Digest(), key)
}

func (c *Cache) lookupMemory(digest uint64, key Key) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[digest]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if ent.key != key {
		// Digest collision; treat as absent.
		return nil, false
	}
	c.lru.MoveToFront(el)
	return ent.img, true
}

func (c *Cache) lookupDisk(digest uint64, key Key) (image.Image, bool) {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store == nil {
		return nil, false
	}

	row, ok, err := store.Lookup(key)
	if err != nil {
		logging.Warn("Disk tier lookup failed for %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	img, err := imaging.Decode(bytes.NewReader(row.Data))
	if err != nil {
		// Corrupt row degrades to a miss; the fresh decode overwrites it.
		logging.Warn("Corrupt disk tier row for %s: %v", key, err)
		return nil, false
	}

	c.insert(key, digest, img, row.Data, false)

	c.mu.Lock()
	c.touched[digest] = struct{}{}
	c.mu.Unlock()
	return img, true
}

func (c *Cache) insert(key Key, digest uint64, img image.Image, encoded []byte, dirty bool) {
	size := imageBytes(img) + int64(len(encoded))

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[digest]; ok {
		old := el.Value.(*entry)
		c.bytes -= old.bytes
		el.Value = &entry{key: key, digest: digest, img: img, encoded: encoded, bytes: size, dirty: dirty || old.dirty}
		c.bytes += size
		c.lru.MoveToFront(el)
	} else {
		el := c.lru.PushFront(&entry{key: key, digest: digest, img: img, encoded: encoded, bytes: size, dirty: dirty})
		c.entries[digest] = el
		c.bytes += size
	}

	for (c.lru.Len() > c.opts.MaxEntries || c.bytes > c.opts.MaxBytes) && c.lru.Len() > 1 {
		c.evictOldest()
	}

	metrics.CacheEntries.Set(float64(c.lru.Len()))
	metrics.CacheBytes.Set(float64(c.bytes))
}

// evictOldest removes the LRU tail. Dirty victims keep their encoded
// bytes in the spill set so the next flush still persists them.
// Caller holds c.mu.
func (c *Cache) evictOldest() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.entries, ent.digest)
	c.bytes -= ent.bytes
	metrics.CacheEvictions.Inc()

	if ent.dirty && ent.encoded != nil {
		b := ent.img.Bounds()
		c.spill[ent.digest] = Row{
			Key:    ent.key,
			ThumbW: b.Dx(),
			ThumbH: b.Dy(),
			Data:   ent.encoded,
		}
	}
}

// Persist flushes dirty entries to the disk tier and applies the disk
// byte budget. Call from the coordinating goroutine at checkpoints and
// session end. A write failure flips the cache to memory-only for the
// rest of the session.
func (c *Cache) Persist() error {
	start := time.Now()

	c.mu.Lock()
	store := c.store
	if store == nil {
		c.mu.Unlock()
		return nil
	}

	var rows []Row
	for el := c.lru.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry)
		if !ent.dirty || ent.encoded == nil {
			continue
		}
		b := ent.img.Bounds()
		rows = append(rows, Row{
			Key:    ent.key,
			ThumbW: b.Dx(),
			ThumbH: b.Dy(),
			Data:   ent.encoded,
		})
		ent.dirty = false
	}
	for _, row := range c.spill {
		rows = append(rows, row)
	}
	c.spill = make(map[uint64]Row)

	touched := make([]uint64, 0, len(c.touched))
	for d := range c.touched {
		touched = append(touched, d)
	}
	c.touched = make(map[uint64]struct{})
	c.mu.Unlock()

	if err := store.SaveBatch(rows); err != nil {
		metrics.CachePersistErrors.Inc()
		logging.Warn("Thumbnail persist failed, continuing memory-only: %v", err)
		c.detachStore(store)
		return err
	}
	if err := store.Touch(touched); err != nil {
		logging.Warn("Failed to refresh disk tier access times: %v", err)
	}
	if _, err := store.Reclaim(c.opts.DiskMaxBytes); err != nil {
		logging.Warn("Disk tier reclamation failed: %v", err)
	}

	metrics.CachePersistDuration.Observe(time.Since(start).Seconds())
	if len(rows) > 0 {
		logging.Debug("Persisted %d thumbnails in %v", len(rows), time.Since(start))
	}
	return nil
}

func (c *Cache) detachStore(store *Store) {
	c.mu.Lock()
	if c.store == store {
		c.store = nil
	}
	c.mu.Unlock()
	store.Close()
}

// Stats describes the current cache occupancy.
type Stats struct {
	Entries    int   `json:"entries"`
	Bytes      int64 `json:"bytes"`
	Dirty      int   `json:"dirty"`
	DiskRows   int   `json:"disk_rows"`
	DiskBytes  int64 `json:"disk_bytes"`
	MemoryOnly bool  `json:"memory_only"`
}

// Snapshot returns the current occupancy of both tiers.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	s := Stats{
		Entries:    c.lru.Len(),
		Bytes:      c.bytes,
		MemoryOnly: c.store == nil,
	}
	for el := c.lru.Front(); el != nil; el = el.Next() {
		if el.Value.(*entry).dirty {
			s.Dirty++
		}
	}
	store := c.store
	c.mu.Unlock()

	if store != nil {
		if n, err := store.Count(); err == nil {
			s.DiskRows = n
		}
		if b, err := store.TotalBytes(); err == nil {
			s.DiskBytes = b
		}
	}
	return s
}

// Close flushes and releases the disk tier.
func (c *Cache) Close() error {
	err := c.Persist()

	c.mu.Lock()
	store := c.store
	c.store = nil
	c.mu.Unlock()

	if store != nil {
		if cerr := store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// imageBytes approximates the resident size of a decoded bitmap.
func imageBytes(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
