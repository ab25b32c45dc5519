package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nevindra/vtrt"
)

// ErrTransportClosed is returned by LocalTransport.Send when the destination
// rank has called Close, and by Recv on a subprocess or hub-child endpoint
// once its input stream has ended. A LocalTransport's own Send, Recv and
// Barrier keep working after its Close.
var ErrTransportClosed = errors.New("transport: closed")

type localMsg struct {
	from    vtrt.NodeID
	payload []byte
}

// LocalTransport is an in-process Transport backed by buffered channels, one
// inbox per rank. Intended for tests and single-binary demos that simulate
// a multi-node run with goroutines.
type LocalTransport struct {
	self  vtrt.NodeID
	world *localWorld
}

type localWorld struct {
	inboxes []chan localMsg
	closed  []atomic.Bool

	barrierMu      sync.Mutex
	barrierArrived int
	barrierGen     uint64
	barrierCh      chan struct{}
}

// NewLocalWorld creates n LocalTransport endpoints sharing one in-process
// world. Endpoint i is rank i.
func NewLocalWorld(n int) []Transport {
	if n <= 0 {
		panic("transport: NewLocalWorld requires n > 0")
	}
	w := &localWorld{
		inboxes:   make([]chan localMsg, n),
		barrierCh: make(chan struct{}),
	}
	w.barrierArrived = 0
	for i := range w.inboxes {
		w.inboxes[i] = make(chan localMsg, 1024)
	}
	w.closed = make([]atomic.Bool, n)

	out := make([]Transport, n)
	for i := 0; i < n; i++ {
		out[i] = &LocalTransport{self: vtrt.NodeID(i), world: w}
	}
	return out
}

func (t *LocalTransport) Rank() vtrt.NodeID { return t.self }
func (t *LocalTransport) Size() int         { return len(t.world.inboxes) }

func (t *LocalTransport) Send(ctx context.Context, dest vtrt.NodeID, payload []byte) error {
	if int(dest) < 0 || int(dest) >= len(t.world.inboxes) {
		return fmt.Errorf("transport: dest rank %d out of range [0,%d)", dest, len(t.world.inboxes))
	}
	if t.world.closed[dest].Load() {
		return ErrTransportClosed
	}
	cp := append([]byte(nil), payload...)
	select {
	case t.world.inboxes[dest] <- localMsg{from: t.self, payload: cp}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LocalTransport) Recv(ctx context.Context) (vtrt.NodeID, []byte, error) {
	select {
	case m, ok := <-t.world.inboxes[t.self]:
		if !ok {
			return 0, nil, ErrTransportClosed
		}
		return m.from, m.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *LocalTransport) TryRecv() (vtrt.NodeID, []byte, bool) {
	select {
	case m, ok := <-t.world.inboxes[t.self]:
		if !ok {
			return 0, nil, false
		}
		return m.from, m.payload, true
	default:
		return 0, nil, false
	}
}

// Barrier implements a simple counting barrier: the last arrival closes the
// generation's channel, releasing everyone, then resets for the next call.
func (t *LocalTransport) Barrier(ctx context.Context) error {
	w := t.world
	w.barrierMu.Lock()
	ch := w.barrierCh
	w.barrierArrived++
	if w.barrierArrived == len(w.inboxes) {
		w.barrierArrived = 0
		w.barrierGen++
		w.barrierCh = make(chan struct{})
		close(ch)
		w.barrierMu.Unlock()
		return nil
	}
	w.barrierMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LocalTransport) Close() error {
	t.world.closed[t.self].Store(true)
	return nil
}
