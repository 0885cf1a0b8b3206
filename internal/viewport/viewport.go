package viewport

import (
	"container/heap"
	"image"
	"sync"

	"image-filter/internal/decode"
	"image-filter/internal/grid"
	"image-filter/internal/index"
	"image-filter/internal/logging"
	"image-filter/internal/metrics"
)

// LoadState tracks one identity through the scheduler.
type LoadState int

const (
	NotRequested LoadState = iota
	Requested
	Loaded
	Failed
)

// String returns the state name.
func (s LoadState) String() string {
	switch s {
	case Requested:
		return "requested"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "not_requested"
	}
}

// State is the visible portion of the grid plus the prefetch margin.
type State struct {
	FirstRow    int
	VisibleRows int
	MarginRows  int
}

// Result is one completed thumbnail load, delivered out of submission
// order and keyed by identity.
type Result struct {
	ID  int
	Img image.Image
	Err error
}

// Loader serves thumbnails; satisfied by thumbcache.Cache.
type Loader interface {
	GetOrCreate(e index.Entry, target decode.Size) (image.Image, error)
}

// Cancelled requests stay queued but sort after every live request, so
// a saturated pool serves the viewport first.
const cancelledPenalty = 1 << 20

type request struct {
	id        int
	priority  int
	cancelled bool
	pos       int // heap index
}

// Scheduler decides which thumbnails to load as the viewport moves. A
// bounded worker pool pops requests nearest-to-center first and
// delivers completions on Results; cancellation is advisory, so a
// cancelled decode still lands in the cache.
type Scheduler struct {
	idx    *index.Index
	loader Loader
	target decode.Size

	mu      sync.Mutex
	cond    *sync.Cond
	layout  grid.Layout
	states  map[int]LoadState
	queue   requestQueue
	pending map[int]*request
	desired map[int]struct{}
	center  int
	stopped bool

	results chan Result
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler starts workerCount decode workers against the loader.
// Call Stop to release them.
func NewScheduler(idx *index.Index, loader Loader, layout grid.Layout, target decode.Size, workerCount int) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &Scheduler{
		idx:     idx,
		loader:  loader,
		target:  target,
		layout:  layout,
		states:  make(map[int]LoadState),
		pending: make(map[int]*request),
		desired: make(map[int]struct{}),
		results: make(chan Result, 64),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.worker()
	}
	return s
}

// Results delivers completed loads to the coordinating loop. Closed by
// Stop.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// SetLayout replaces the grid geometry, as on a resize or rebuild. The
// next SetViewport maps rows through the new layout.
func (s *Scheduler) SetLayout(layout grid.Layout) {
	s.mu.Lock()
	s.layout = layout
	s.mu.Unlock()
}

// SetViewport recomputes the desired identity set for the new viewport
// and reconciles the queue: missing identities are enqueued, in-flight
// requests that left the set are deprioritized, and every pending
// priority is refreshed against the new viewport center.
func (s *Scheduler) SetViewport(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	first := st.FirstRow - st.MarginRows
	last := st.FirstRow + st.VisibleRows - 1 + st.MarginRows
	ids := s.layout.IDsForRows(first, last)

	newDesired := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		newDesired[id] = struct{}{}
	}
	if len(ids) > 0 {
		s.center = ids[len(ids)/2]
	}

	for _, id := range ids {
		switch s.states[id] {
		case NotRequested:
			s.enqueue(id)
		case Failed:
			// Retry only on re-entry, not while continuously visible.
			if _, was := s.desired[id]; !was {
				s.enqueue(id)
			}
		case Requested:
			if req, ok := s.pending[id]; ok && req.cancelled {
				req.cancelled = false
			}
		}
	}

	for id, req := range s.pending {
		if _, ok := newDesired[id]; !ok && !req.cancelled {
			req.cancelled = true
			metrics.SchedulerCancellations.Inc()
		}
	}

	s.desired = newDesired
	s.reprioritize()
	metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
	s.cond.Broadcast()
}

// enqueue marks id Requested and queues it. Caller holds s.mu.
func (s *Scheduler) enqueue(id int) {
	s.states[id] = Requested
	req := &request{id: id}
	s.pending[id] = req
	heap.Push(&s.queue, req)
	metrics.SchedulerRequests.Inc()
}

// reprioritize refreshes every pending priority against the current
// center. Caller holds s.mu.
func (s *Scheduler) reprioritize() {
	for _, req := range s.queue {
		req.priority = distance(req.id, s.center)
		if req.cancelled {
			req.priority += cancelledPenalty
		}
	}
	heap.Init(&s.queue)
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// Snapshot returns a copy of the per-identity load states.
func (s *Scheduler) Snapshot() map[int]LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]LoadState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// StateOf returns the load state for one identity.
func (s *Scheduler) StateOf(id int) LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id]
}

// Cancelled reports whether a still-pending request has been
// deprioritized out of the viewport.
func (s *Scheduler) Cancelled(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.pending[id]
	return ok && req.cancelled
}

// Stop drains the workers and closes Results. Queued requests that
// never started are abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.cond.Broadcast()
	s.wg.Wait()
	close(s.results)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		req := heap.Pop(&s.queue).(*request)
		delete(s.pending, req.id)
		metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()

		entry, ok := s.idx.Lookup(req.id)
		if !ok {
			continue
		}

		img, err := s.loader.GetOrCreate(entry, s.target)

		s.mu.Lock()
		if err != nil {
			s.states[req.id] = Failed
			logging.Debug("Thumbnail load failed for %s: %v", entry.Path, err)
		} else {
			s.states[req.id] = Loaded
		}
		s.mu.Unlock()

		select {
		case s.results <- Result{ID: req.id, Img: img, Err: err}:
		case <-s.done:
			return
		}
	}
}

// requestQueue is a min-heap ordered by priority, identity as the tie
// break for determinism.
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].id < q[j].id
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].pos = i
	q[j].pos = j
}

func (q *requestQueue) Push(x interface{}) {
	req := x.(*request)
	req.pos = len(*q)
	*q = append(*q, req)
}

func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return req
}
