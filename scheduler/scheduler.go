// Package scheduler implements the fabric's central callback scheduler:
// the single executor that every channel's message and disconnect
// handlers run on, so that no user callback ever runs on a transport's
// own reader/writer goroutine. Each tag with pending work is drained by
// one goroutine that exits once the tag's queue empties (not one
// goroutine per callback), and a fixed number of worker slots bounds how
// many callbacks run at once.
//
// Submissions are tagged by the caller. Two callbacks submitted with the
// same tag always run in submission order and never concurrently with
// each other; callbacks with different tags may run concurrently, up to
// the pool's worker count. A channel uses its own identity as the tag for
// everything it schedules, so messages and the eventual disconnect
// notification for that channel are strictly ordered relative to each
// other, while unrelated channels make independent progress.
package scheduler

import "sync"

// Scheduler runs submitted functions on a fixed-size worker pool while
// preserving per-tag FIFO order. A tag's queue exists only while it has
// work: the entry is created when the first callback for a tag arrives
// and deleted the moment its queue drains, so a long-running node that
// churns through many channels (each using its own identity as a tag)
// does not pin every channel it has ever scheduled for in the map.
type Scheduler struct {
	sem chan struct{}

	mu   sync.Mutex
	tags map[any]*tagQueue

	wg sync.WaitGroup
}

// tagQueue is one tag's pending callbacks. Presence in Scheduler.tags
// means exactly one drain goroutine owns this queue; both the map entry
// and pending are guarded by Scheduler.mu, so removal of an emptied
// queue is atomic with the emptiness check and a concurrent submission
// can never append to a queue that is being retired.
type tagQueue struct {
	pending []func()
}

// New returns a Scheduler backed by workers concurrently executing
// goroutines. workers must be at least 1.
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		sem:  make(chan struct{}, workers),
		tags: make(map[any]*tagQueue),
	}
}

// ScheduleImmediately enqueues fn to run as soon as a worker is free and
// every callback previously submitted under the same tag has completed.
// tag is typically a channel's own identity (e.g. its *SerializedChannel
// pointer); any comparable value works.
func (s *Scheduler) ScheduleImmediately(fn func(), tag any) {
	s.mu.Lock()
	tq, ok := s.tags[tag]
	if !ok {
		tq = &tagQueue{}
		s.tags[tag] = tq
		s.wg.Add(1)
		go s.drain(tq, tag)
	}
	tq.pending = append(tq.pending, fn)
	s.mu.Unlock()
}

// drain runs one tag's queue to empty, one function at a time, then
// deletes the tag's entry and exits — the next ScheduleImmediately call
// for that tag starts a fresh queue and drain goroutine.
func (s *Scheduler) drain(tq *tagQueue, tag any) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(tq.pending) == 0 {
			delete(s.tags, tag)
			s.mu.Unlock()
			return
		}
		fn := tq.pending[0]
		tq.pending = tq.pending[1:]
		s.mu.Unlock()

		s.sem <- struct{}{}
		fn()
		<-s.sem
	}
}

// Wait blocks until every submitted function (and everything they have
// themselves submitted) has run and every tag queue has gone idle. Meant
// for tests and clean shutdown, not for steady-state use — a scheduler
// that's still receiving work from live channels never drains.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
