package epoch

import (
	"sync"

	"github.com/nevindra/vtrt"
)

// actionRegistry stores the FIFO-ordered quiescence actions for every epoch
// currently being tracked, shared by both termination algorithms: actions
// are keyed by epoch and run on the local node once that epoch quiesces.
type actionRegistry struct {
	mu      sync.Mutex
	pending map[vtrt.EpochID][]func()
	done    map[vtrt.EpochID]bool
}

func newActionRegistry() actionRegistry {
	return actionRegistry{
		pending: make(map[vtrt.EpochID][]func()),
		done:    make(map[vtrt.EpochID]bool),
	}
}

// registerOrRunIfDone queues fn for epoch, or runs it immediately if epoch
// already terminated before this call.
func (r *actionRegistry) registerOrRunIfDone(epoch vtrt.EpochID, fn func()) {
	r.mu.Lock()
	if r.done[epoch] {
		r.mu.Unlock()
		fn()
		return
	}
	r.pending[epoch] = append(r.pending[epoch], fn)
	r.mu.Unlock()
}

// fire marks epoch terminated and runs every queued action in FIFO order.
// Safe to call more than once; only the first call runs actions.
func (r *actionRegistry) fire(epoch vtrt.EpochID) {
	r.mu.Lock()
	if r.done[epoch] {
		r.mu.Unlock()
		return
	}
	r.done[epoch] = true
	fns := r.pending[epoch]
	delete(r.pending, epoch)
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// isDone reports whether epoch has already been detected terminated.
func (r *actionRegistry) isDone(epoch vtrt.EpochID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done[epoch]
}
