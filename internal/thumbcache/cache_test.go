package thumbcache

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-filter/internal/decode"
	"image-filter/internal/index"

	"github.com/disintegration/imaging"
)

func testEntry(id int, path string, mtime time.Time) index.Entry {
	return index.Entry{ID: id, Path: path, Size: 1234, ModTime: mtime}
}

// countingDecoder returns a fixed-size bitmap and counts invocations.
func countingDecoder(count *atomic.Int64) Decoder {
	return func(path string, target decode.Size, mode decode.Mode) (image.Image, error) {
		count.Add(1)
		return imaging.New(100, 100, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), nil
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})

	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))
	target := decode.Size{Width: 120, Height: 120}

	first, err := c.GetOrCreate(e, target)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	second, err := c.GetOrCreate(e, target)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	if first != second {
		t.Error("repeated GetOrCreate returned different bitmaps")
	}
	if n := decodes.Load(); n != 1 {
		t.Errorf("decode count = %d, want 1", n)
	}
}

func TestGetOrCreateInvalidatesOnMetadataChange(t *testing.T) {
	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})
	target := decode.Size{Width: 120, Height: 120}

	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))
	if _, err := c.GetOrCreate(e, target); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	// The file was rewritten: new mtime, new key, fresh decode.
	e.ModTime = time.Unix(200, 0)
	if _, err := c.GetOrCreate(e, target); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if n := decodes.Load(); n != 2 {
		t.Errorf("decode count = %d, want 2", n)
	}

	// Different target dimensions are also a different variant.
	if _, err := c.GetOrCreate(e, decode.Size{Width: 240, Height: 240}); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if n := decodes.Load(); n != 3 {
		t.Errorf("decode count = %d, want 3", n)
	}
}

func TestGetOrCreateCoalesces(t *testing.T) {
	var decodes atomic.Int64
	release := make(chan struct{})
	dec := func(path string, target decode.Size, mode decode.Mode) (image.Image, error) {
		decodes.Add(1)
		<-release
		return imaging.New(100, 100, color.NRGBA{A: 255}), nil
	}
	c := New(dec, Options{})

	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))
	target := decode.Size{Width: 120, Height: 120}

	const callers = 8
	results := make([]image.Image, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := c.GetOrCreate(e, target)
			if err != nil {
				t.Errorf("GetOrCreate() error: %v", err)
				return
			}
			results[i] = img
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := decodes.Load(); n != 1 {
		t.Errorf("decode count = %d, want 1", n)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different bitmap", i)
		}
	}
}

func TestLRUEviction(t *testing.T) {
	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{MaxEntries: 2})
	target := decode.Size{Width: 120, Height: 120}

	a := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))
	b := testEntry(1, "/photos/b.jpg", time.Unix(100, 0))
	d := testEntry(2, "/photos/c.jpg", time.Unix(100, 0))

	for _, e := range []index.Entry{a, b} {
		if _, err := c.GetOrCreate(e, target); err != nil {
			t.Fatalf("GetOrCreate() error: %v", err)
		}
	}

	// Touch a so b is the LRU victim.
	if _, ok := c.Cached(a, target); !ok {
		t.Fatal("Cached(a) missed a resident entry")
	}
	if _, err := c.GetOrCreate(d, target); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	if _, ok := c.Cached(b, target); ok {
		t.Error("LRU victim is still resident")
	}
	if _, ok := c.Cached(a, target); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Cached(d, target); !ok {
		t.Error("just-inserted entry was evicted")
	}
	if got := c.Snapshot().Entries; got != 2 {
		t.Errorf("Snapshot().Entries = %d, want 2", got)
	}
}

func TestByteBudgetEviction(t *testing.T) {
	var decodes atomic.Int64
	// Each 100x100 bitmap accounts for 40000 pixel bytes plus its
	// encoded form; two entries overflow a 90KB budget.
	c := New(countingDecoder(&decodes), Options{MaxEntries: 100, MaxBytes: 90_000})
	target := decode.Size{Width: 120, Height: 120}

	for i, path := range []string{"/p/a.jpg", "/p/b.jpg", "/p/c.jpg"} {
		if _, err := c.GetOrCreate(testEntry(i, path, time.Unix(100, 0)), target); err != nil {
			t.Fatalf("GetOrCreate() error: %v", err)
		}
	}

	s := c.Snapshot()
	if s.Bytes > 90_000 {
		t.Errorf("Snapshot().Bytes = %d, want <= 90000", s.Bytes)
	}
	if s.Entries >= 3 {
		t.Errorf("Snapshot().Entries = %d, want < 3", s.Entries)
	}
}

func TestPutAndCached(t *testing.T) {
	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})

	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))
	full := imaging.New(400, 300, color.NRGBA{A: 255})
	c.Put(e, decode.Size{}, full)

	got, ok := c.Cached(e, decode.Size{})
	if !ok || got != full {
		t.Fatal("deposited bitmap is not resident")
	}

	// A deposit satisfies GetOrCreate without a decode.
	img, err := c.GetOrCreate(e, decode.Size{})
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if img != full {
		t.Error("GetOrCreate() did not reuse the deposit")
	}
	if n := decodes.Load(); n != 0 {
		t.Errorf("decode count = %d, want 0", n)
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	target := decode.Size{Width: 120, Height: 120}
	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))

	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})
	if err := c.LoadPersisted(dir); err != nil {
		t.Fatalf("LoadPersisted() error: %v", err)
	}
	if _, err := c.GetOrCreate(e, target); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if n := decodes.Load(); n != 1 {
		t.Fatalf("decode count = %d, want 1", n)
	}

	// A new session over the same folder serves from disk.
	var reloadDecodes atomic.Int64
	c2 := New(countingDecoder(&reloadDecodes), Options{})
	if err := c2.LoadPersisted(dir); err != nil {
		t.Fatalf("LoadPersisted() error: %v", err)
	}
	defer c2.Close()

	img, err := c2.GetOrCreate(e, target)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 100 {
		t.Errorf("reloaded bitmap = %dx%d, want 100x100", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if n := reloadDecodes.Load(); n != 0 {
		t.Errorf("decode count after reload = %d, want 0", n)
	}

	// Stale metadata misses and decodes fresh.
	e.ModTime = time.Unix(200, 0)
	if _, err := c2.GetOrCreate(e, target); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if n := reloadDecodes.Load(); n != 1 {
		t.Errorf("decode count after invalidation = %d, want 1", n)
	}
}

func TestDirtyEvictionStillPersists(t *testing.T) {
	dir := t.TempDir()
	target := decode.Size{Width: 120, Height: 120}

	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{MaxEntries: 2})
	if err := c.LoadPersisted(dir); err != nil {
		t.Fatalf("LoadPersisted() error: %v", err)
	}

	entries := []index.Entry{
		testEntry(0, "/p/a.jpg", time.Unix(100, 0)),
		testEntry(1, "/p/b.jpg", time.Unix(100, 0)),
		testEntry(2, "/p/c.jpg", time.Unix(100, 0)),
	}
	for _, e := range entries {
		if _, err := c.GetOrCreate(e, target); err != nil {
			t.Fatalf("GetOrCreate() error: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	var reloadDecodes atomic.Int64
	c2 := New(countingDecoder(&reloadDecodes), Options{})
	if err := c2.LoadPersisted(dir); err != nil {
		t.Fatalf("LoadPersisted() error: %v", err)
	}
	defer c2.Close()

	// All three survive, including the one evicted before the flush.
	for _, e := range entries {
		if _, err := c2.GetOrCreate(e, target); err != nil {
			t.Fatalf("GetOrCreate() error: %v", err)
		}
	}
	if n := reloadDecodes.Load(); n != 0 {
		t.Errorf("decode count = %d, want 0", n)
	}
}

func TestCorruptDiskRowDegradesToMiss(t *testing.T) {
	dir := t.TempDir()
	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))
	target := decode.Size{Width: 120, Height: 120}
	key := KeyFor(e, target)

	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore() error: %v", err)
	}
	if err := store.SaveBatch([]Row{{Key: key, ThumbW: 1, ThumbH: 1, Data: []byte("not a jpeg")}}); err != nil {
		t.Fatalf("SaveBatch() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})
	if err := c.LoadPersisted(dir); err != nil {
		t.Fatalf("LoadPersisted() error: %v", err)
	}
	defer c.Close()

	img, err := c.GetOrCreate(e, target)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if img == nil {
		t.Fatal("GetOrCreate() returned nil bitmap")
	}
	if n := decodes.Load(); n != 1 {
		t.Errorf("decode count = %d, want 1 (corrupt row must degrade to a miss)", n)
	}
}

func TestPersistFailureFallsBackToMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	target := decode.Size{Width: 120, Height: 120}
	e := testEntry(0, "/photos/a.jpg", time.Unix(100, 0))

	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})
	if err := c.LoadPersisted(dir); err != nil {
		t.Fatalf("LoadPersisted() error: %v", err)
	}

	img, err := c.GetOrCreate(e, target)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if c.Snapshot().MemoryOnly {
		t.Fatal("cache with an attached disk tier should not report memory-only")
	}

	// The disk goes away mid-session: the next flush must fail.
	c.mu.Lock()
	c.store.db.Close()
	c.mu.Unlock()

	if err := c.Persist(); err == nil {
		t.Fatal("Persist() should surface the write failure")
	}
	if !c.Snapshot().MemoryOnly {
		t.Error("cache should flip to memory-only after a persist failure")
	}

	// Browsing continues from the memory tier without new decodes.
	got, err := c.GetOrCreate(e, target)
	if err != nil {
		t.Fatalf("GetOrCreate() after fallback error: %v", err)
	}
	if got != img {
		t.Error("memory tier lost the entry after the fallback")
	}
	if n := decodes.Load(); n != 1 {
		t.Errorf("decode count = %d, want 1", n)
	}

	// Later flushes are no-ops, never repeated failures.
	if err := c.Persist(); err != nil {
		t.Errorf("Persist() in memory-only mode error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() in memory-only mode error: %v", err)
	}
}

func TestSnapshotMemoryOnly(t *testing.T) {
	var decodes atomic.Int64
	c := New(countingDecoder(&decodes), Options{})
	if !c.Snapshot().MemoryOnly {
		t.Error("cache without a disk tier should report memory-only")
	}
}
