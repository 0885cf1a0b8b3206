package preload

import (
	"fmt"
	"image"
	"sync"

	"image-filter/internal/decode"
	"image-filter/internal/index"
	"image-filter/internal/logging"
	"image-filter/internal/metrics"
)

// SlotState tracks one window slot.
type SlotState int

const (
	Queued SlotState = iota
	Loading
	Ready
	Failed
)

// String returns the state name.
func (s SlotState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "queued"
	}
}

// Decoder produces full-size bitmaps; production wiring passes
// decode.Decode.
type Decoder func(path string, target decode.Size, mode decode.Mode) (image.Image, error)

// Depot receives completed decodes and serves resident ones; satisfied
// by thumbcache.Cache.
type Depot interface {
	Put(e index.Entry, target decode.Size, img image.Image)
	Cached(e index.Entry, target decode.Size) (image.Image, bool)
}

type slot struct {
	state SlotState
}

// Preloader keeps the next few full-size images decoded ahead of the
// review position. Completed decodes are always deposited in the cache,
// even after their slot leaves the window, so no work is wasted.
type Preloader struct {
	idx     *index.Index
	depot   Depot
	decoder Decoder
	count   int
	target  decode.Size

	mu     sync.Mutex
	window map[int]*slot

	jobs chan int
	done chan struct{}
	wg   sync.WaitGroup
}

// New starts a preloader holding up to count look-ahead slots. Call
// Stop to release its workers.
func New(idx *index.Index, depot Depot, decoder Decoder, count, workerCount int) *Preloader {
	if count < 1 {
		count = 1
	}
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Preloader{
		idx:     idx,
		depot:   depot,
		decoder: decoder,
		count:   count,
		target:  decode.Size{},
		window:  make(map[int]*slot),
		jobs:    make(chan int, 4*count),
		done:    make(chan struct{}),
	}

	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.worker()
	}
	return p
}

// Advance shifts the look-ahead window to the images following current:
// identities [current+1, current+count], clamped to the index. Newly
// exposed slots are enqueued; slots that fell out are dropped, though a
// decode already running for one still completes into the cache.
func (p *Preloader) Advance(current int) {
	first := current + 1
	last := current + p.count
	if max := p.idx.Len() - 1; last > max {
		last = max
	}

	p.mu.Lock()
	keep := make(map[int]struct{}, p.count)
	var fresh []int
	for id := first; id <= last; id++ {
		keep[id] = struct{}{}
		if _, ok := p.window[id]; !ok {
			p.window[id] = &slot{state: Queued}
			fresh = append(fresh, id)
		}
	}
	for id := range p.window {
		if _, ok := keep[id]; !ok {
			delete(p.window, id)
		}
	}
	p.publishReadyLocked()
	p.mu.Unlock()

	for _, id := range fresh {
		select {
		case p.jobs <- id:
		case <-p.done:
			return
		}
	}
}

// Current returns the full-size bitmap for the image under review. A
// Ready slot is served from the cache without blocking; otherwise a
// synchronous decode keeps the view responsive and the result is stored
// for any later revisit.
func (p *Preloader) Current(id int) (image.Image, error) {
	entry, ok := p.idx.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("identity %d out of range", id)
	}

	if img, ok := p.depot.Cached(entry, p.target); ok {
		return img, nil
	}

	metrics.PreloadSyncFallbacks.Inc()
	logging.Debug("Preload window missed %s, decoding synchronously", entry.Path)
	img, err := p.decoder(entry.Path, p.target, decode.Full)
	if err != nil {
		return nil, err
	}
	p.depot.Put(entry, p.target, img)
	return img, nil
}

// WindowSnapshot returns a copy of the window slot states.
func (p *Preloader) WindowSnapshot() map[int]SlotState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int]SlotState, len(p.window))
	for id, sl := range p.window {
		out[id] = sl.state
	}
	return out
}

// Stop releases the workers. In-flight decodes finish and deposit.
func (p *Preloader) Stop() {
	select {
	case <-p.done:
		return
	default:
	}
	close(p.done)
	p.wg.Wait()
}

func (p *Preloader) worker() {
	defer p.wg.Done()

	for {
		var id int
		select {
		case id = <-p.jobs:
		case <-p.done:
			return
		}

		p.mu.Lock()
		sl, ok := p.window[id]
		if !ok || sl.state != Queued {
			// The window moved on before we got to it.
			p.mu.Unlock()
			continue
		}
		sl.state = Loading
		p.mu.Unlock()

		entry, ok := p.idx.Lookup(id)
		if !ok {
			continue
		}

		// A slot stepping back into the window may already be deposited;
		// reuse it instead of decoding again.
		if _, ok := p.depot.Cached(entry, p.target); ok {
			p.mu.Lock()
			if sl, ok := p.window[id]; ok {
				sl.state = Ready
				p.publishReadyLocked()
			}
			p.mu.Unlock()
			continue
		}

		img, err := p.decoder(entry.Path, p.target, decode.Full)
		if err == nil {
			p.depot.Put(entry, p.target, img)
		} else {
			logging.Debug("Preload decode failed for %s: %v", entry.Path, err)
		}

		p.mu.Lock()
		if sl, ok := p.window[id]; ok {
			if err != nil {
				sl.state = Failed
			} else {
				sl.state = Ready
			}
			p.publishReadyLocked()
		}
		p.mu.Unlock()
	}
}

// publishReadyLocked refreshes the ready-slot gauge. Caller holds p.mu.
func (p *Preloader) publishReadyLocked() {
	ready := 0
	for _, sl := range p.window {
		if sl.state == Ready {
			ready++
		}
	}
	metrics.PreloadWindowReady.Set(float64(ready))
}
