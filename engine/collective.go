package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/epoch"
	"github.com/nevindra/vtrt/group"
	"github.com/nevindra/vtrt/messenger"
	"github.com/nevindra/vtrt/reduction"
)

// wavePump is the Progressable that periodically re-issues
// epoch.Manager.BeginCollectiveWave for every collective epoch this node
// has opened as root, driven off the scheduler's idle-poll hook. BeginRooted
// epochs need no pump: Dijkstra-Scholten quiescence is edge-triggered off
// OnConsume/disengage acks, never a timer.
type wavePump struct {
	ep     *epoch.Manager
	period time.Duration
	last   time.Time

	mu     sync.Mutex
	active map[vtrt.EpochID]struct{}
}

func newWavePump(ep *epoch.Manager, period time.Duration) *wavePump {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return &wavePump{ep: ep, period: period, active: make(map[vtrt.EpochID]struct{})}
}

func (w *wavePump) track(epoch vtrt.EpochID) {
	w.mu.Lock()
	w.active[epoch] = struct{}{}
	w.mu.Unlock()
}

func (w *wavePump) untrack(epoch vtrt.EpochID) {
	w.mu.Lock()
	delete(w.active, epoch)
	w.mu.Unlock()
}

// Progress fires one BeginCollectiveWave round per tracked epoch whenever
// period has elapsed since the last round (scheduler.Progressable).
func (w *wavePump) Progress(ctx context.Context) (bool, error) {
	if time.Since(w.last) < w.period {
		return false, nil
	}
	w.last = time.Now()

	w.mu.Lock()
	epochs := make([]vtrt.EpochID, 0, len(w.active))
	for e := range w.active {
		epochs = append(epochs, e)
	}
	w.mu.Unlock()

	did := false
	for _, e := range epochs {
		if err := w.ep.BeginCollectiveWave(ctx, e); err != nil {
			return did, err
		}
		did = true
	}
	return did, nil
}

var collectiveSeq atomic.Uint32

// RunInEpoch opens a new collective epoch rooted at this node, runs fn
// inside it, marks it finished, then drives the scheduler until the wave
// detects quiescence, bracketing a phase of work so its caller can wait for
// every message it caused to finish. fn should issue its
// sends through rt.Messenger()'s SendMsg/BroadcastMsg, passing
// messenger.WithEpoch with the epoch RunInEpoch hands it, so OnProduce/OnConsume accounting lands on this epoch rather than the
// implicit global one.
//
// Collection broadcasts and element sends do not thread an epoch through
// the collection package (see DESIGN.md, "collection epoch accounting");
// a RunInEpoch bracket around collection.Manager.Broadcast/SendToElement
// will open and close correctly but won't itself wait for those sends'
// completion the way it does for plain messenger sends.
func (rt *Runtime) RunInEpoch(ctx context.Context, fn func(epoch vtrt.EpochID) error) error {
	seq := collectiveSeq.Add(1)
	cat := vtrt.CategoryUser
	ep := vtrt.MakeEpochCollective(rt.self, 0, seq, &cat)

	done := make(chan struct{})
	rt.ep.RegisterAction(ep, func() { close(done) })

	if rt.wave != nil {
		rt.wave.track(ep)
		defer rt.wave.untrack(ep)
	}

	if err := fn(ep); err != nil {
		return err
	}
	rt.ep.FinishedEpoch(ep)

	return rt.sched.RunWhile(ctx, func() bool {
		select {
		case <-done:
			return false
		default:
			return true
		}
	})
}

// BeginRooted opens a Dijkstra-Scholten rooted epoch scoped to this node,
// for callers that need per-originator termination tracking rather than a
// collective wave (e.g. a migration or reduction bracket that only this
// node originates sends for).
func (rt *Runtime) BeginRooted(scope uint8) vtrt.EpochID {
	return rt.ep.BeginRooted(scope)
}

// CreateRootedGroup builds a static spanning tree rooted at this node over
// members, usable immediately with no collective round-trip: a rooted
// group is known complete by construction.
func (rt *Runtime) CreateRootedGroup(members []vtrt.NodeID, static bool) *group.Region {
	return rt.grp.CreateRooted(members, static)
}

// CreateCollectiveGroup builds (or, on non-root callers, waits for) a
// spanning tree over members identified by tag; every caller must pass the
// same members and tag, since every participant proposes the same
// membership.
func (rt *Runtime) CreateCollectiveGroup(ctx context.Context, members []vtrt.NodeID, tag uint64, static bool) (*group.Region, error) {
	return rt.grp.CreateCollective(ctx, members, tag, static)
}

// NewReducer builds a tree reduction over op for value type T, wired
// through this Runtime's group manager and messenger. Every node must call
// NewReducer for the same T in the same order at startup so the reserved
// route lines up across the cluster: the slot counter lives
// on rt rather than as a package-level var so that several simulated nodes
// sharing one process (cmd/collection_reduce and friends, via
// transport.NewLocalWorld) each mint their own slot 1, 2, 3... in calling
// order instead of racing over one shared counter, the same way separate
// node processes each start from their own zero-valued package state.
func NewReducer[T any](rt *Runtime, op reduction.Op[T], encode func(T) ([]byte, error), decode func([]byte) (T, error)) *reduction.Reducer[T] {
	slot := rt.reducerSlot.Add(1)
	proxy := &reduceProxy[T]{}
	red := reduction.NewReducer[T](rt.self, proxy, op, encode, decode, rt.grp.Region)
	proxy.real = messenger.NewReduceTransport[T](rt.msg, red, slot)
	return red
}
