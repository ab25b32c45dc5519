package scheduler

import (
	"fmt"
	"sync"

	"github.com/nevindra/vtrt"
)

// Suspended is returned to a handler body when it calls Fiber.Suspend, so a
// handler may yield control and resume on a later scheduler tick instead of
// blocking. It carries a single-use Resume closure: Resume (or Release)
// consumes it exactly once, after which it is inert.
type Suspended struct {
	Reason string

	mu     sync.Mutex
	resume func()
}

func (s *Suspended) Error() string {
	return fmt.Sprintf("scheduler: fiber suspended: %s", s.Reason)
}

// Resume re-enqueues the continuation as a new work unit. Calling it more
// than once, or after Release, is a no-op.
func (s *Suspended) Resume() {
	s.mu.Lock()
	fn := s.resume
	s.resume = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Release discards the continuation without running it (the work unit is
// abandoned). Safe to call multiple times.
func (s *Suspended) Release() {
	s.mu.Lock()
	s.resume = nil
	s.mu.Unlock()
}

// Fiber is a single suspend/resume point for one logical handler invocation.
// A handler that wants to block without blocking the scheduler thread
// constructs a Fiber, calls Suspend from within its body to hand back
// control, and the caller arranges for some external event (a reply
// message, a timer) to call Resume on the returned Suspended, which re-enqueues the handler's
// remainder as a fresh Work on the owning Scheduler.
type Fiber struct {
	sched *Scheduler
}

// NewFiber binds a Fiber to sched; resumed continuations are re-enqueued on
// it at priority level/value zero.
func NewFiber(sched *Scheduler) *Fiber {
	return &Fiber{sched: sched}
}

// Suspend parks cont (the handler's remainder) until Resume is called on
// the returned Suspended. The scheduler sees the original invocation and the
// resumed continuation as two separate work units sharing this Fiber.
func (f *Fiber) Suspend(reason string, cont func()) *Suspended {
	s := &Suspended{Reason: reason}
	s.resume = func() {
		f.sched.Enqueue(vtrt.Priority{}, cont)
	}
	return s
}
