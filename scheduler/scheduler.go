// Package scheduler implements the single-threaded cooperative run loop: a
// priority-ordered ready queue plus a set of registered Progressables polled
// whenever the queue drains.
package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nevindra/vtrt"
)

// Work is one schedulable unit: a handler invocation already bound to its
// epoch, carried through the queue as an opaque closure.
type Work struct {
	Priority vtrt.Priority
	Run      func()

	seq   uint64 // FIFO tiebreak within a priority level
	index int    // heap.Interface bookkeeping
}

// Progressable is polled once per idle tick: transport poll, termination
// wave tick, location timeout sweep. Progress reports whether it did
// anything this tick; the scheduler uses that to decide isIdle().
type Progressable interface {
	Progress(ctx context.Context) (didWork bool, err error)
}

// workQueue is a container/heap.Interface ordering by (Level desc, Value
// desc, seq asc) so the highest priority level wins, then the larger value
// within a level, then FIFO.
type workQueue []*Work

func (q workQueue) Len() int { return len(q) }
func (q workQueue) Less(i, j int) bool {
	if q[i].Priority.Level != q[j].Priority.Level {
		return q[i].Priority.Level > q[j].Priority.Level
	}
	if q[i].Priority.Value != q[j].Priority.Value {
		return q[i].Priority.Value > q[j].Priority.Value
	}
	return q[i].seq < q[j].seq
}
func (q workQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *workQueue) Push(x any) {
	w := x.(*Work)
	w.index = len(*q)
	*q = append(*q, w)
}
func (q *workQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// Scheduler is the runtime's single cooperative loop. Safe for concurrent
// Enqueue from any goroutine (the messenger's receive path and other
// progress sources feed it); RunWhile must run on a single goroutine.
type Scheduler struct {
	mu    sync.Mutex
	queue workQueue
	seq   uint64

	progMu        sync.Mutex
	progressables []Progressable

	// idleLimiter throttles the idle-poll spin so an empty queue with no
	// Progressable activity doesn't busy-loop.
	idleLimiter *rate.Limiter
}

// New creates an empty Scheduler. idleRate bounds how many idle ticks per
// second the loop spends polling Progressables when the ready queue is
// empty and nothing reports work; pass 0 for no limit.
func New(idleRate rate.Limit) *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.queue)
	if idleRate > 0 {
		s.idleLimiter = rate.NewLimiter(idleRate, 1)
	}
	return s
}

// Register adds p to the set polled on every idle tick.
func (s *Scheduler) Register(p Progressable) {
	s.progMu.Lock()
	defer s.progMu.Unlock()
	s.progressables = append(s.progressables, p)
}

// Enqueue adds a ready work unit at the given priority. Safe to call from
// any goroutine.
func (s *Scheduler) Enqueue(priority vtrt.Priority, run func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	heap.Push(&s.queue, &Work{Priority: priority, Run: run, seq: s.seq})
}

// QueueLen reports the number of ready work units waiting, for diagnostics.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) pop() (*Work, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&s.queue).(*Work), true
}

// pollProgressables polls every registered Progressable once and reports
// whether any of them did work.
func (s *Scheduler) pollProgressables(ctx context.Context) (bool, error) {
	s.progMu.Lock()
	list := append([]Progressable(nil), s.progressables...)
	s.progMu.Unlock()

	didAny := false
	for _, p := range list {
		did, err := p.Progress(ctx)
		if err != nil {
			return didAny, err
		}
		if did {
			didAny = true
		}
	}
	return didAny, nil
}

// IsIdle reports whether the queue is empty and no Progressable reported
// activity on the most recent poll.
func (s *Scheduler) IsIdle(ctx context.Context) (bool, error) {
	if s.QueueLen() > 0 {
		return false, nil
	}
	did, err := s.pollProgressables(ctx)
	if err != nil {
		return false, err
	}
	return !did, nil
}

// RunWhile drives the loop until pred returns false or ctx is done. Each
// iteration: pop and run the highest-priority ready work unit; if none is
// ready, poll every Progressable once.
func (s *Scheduler) RunWhile(ctx context.Context, pred func() bool) error {
	for pred() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w, ok := s.pop(); ok {
			w.Run()
			continue
		}
		if s.idleLimiter != nil {
			if err := s.idleLimiter.Wait(ctx); err != nil {
				return err
			}
		}
		if _, err := s.pollProgressables(ctx); err != nil {
			return err
		}
	}
	return nil
}
