package epoch

import (
	"context"
	"sync"

	"github.com/nevindra/vtrt"
)

// rootedState is one node's Dijkstra-Scholten bookkeeping for a single
// rooted epoch. deficit counts this node's own outgoing
// sends on the epoch that have not yet been acknowledged quiescent by their
// recipient's subtree. engagedTo counts, per predecessor, how many received
// messages from that predecessor this node has not yet disengaged; once a
// predecessor's count drains to zero (all its messages consumed) and this
// node's own deficit is also zero, a disengagement ack is sent back to it.
type rootedState struct {
	mu        sync.Mutex
	isOrigin  bool
	deficit   int64
	engagedTo map[vtrt.NodeID]int64
}

func newRootedState(isOrigin bool) *rootedState {
	return &rootedState{isOrigin: isOrigin, engagedTo: make(map[vtrt.NodeID]int64)}
}

func (m *Manager) rootedGetOrCreate(epoch vtrt.EpochID) *rootedState {
	m.dsMu.Lock()
	defer m.dsMu.Unlock()
	st, ok := m.rooted[epoch]
	if !ok {
		st = newRootedState(false)
		m.rooted[epoch] = st
	}
	return st
}

// BeginRooted creates and registers a new rooted epoch originating at this
// node, with its deficit seeded to 1 for the originator's own implicit
// root reference.
func (m *Manager) BeginRooted(scope uint8) vtrt.EpochID {
	cat := vtrt.CategoryUser
	epoch := vtrt.MakeEpochRooted(m.node, scope, 0, &cat)
	st := newRootedState(true)
	st.deficit = 1
	m.dsMu.Lock()
	m.rooted[epoch] = st
	m.dsMu.Unlock()
	return epoch
}

func (m *Manager) rootedOnSend(epoch vtrt.EpochID, dest vtrt.NodeID) {
	st := m.rootedGetOrCreate(epoch)
	st.mu.Lock()
	st.deficit++
	st.mu.Unlock()
}

func (m *Manager) rootedOnReceive(ctx context.Context, epoch vtrt.EpochID, from vtrt.NodeID) {
	st := m.rootedGetOrCreate(epoch)
	st.mu.Lock()
	_, alreadyEngaged := st.engagedTo[from]
	st.engagedTo[from]++
	st.mu.Unlock()

	if !alreadyEngaged && m.ctrl != nil {
		m.ctrl.SendControl(ctx, from, Frame{Kind: kindEngageAck, Epoch: epoch, From: m.node})
	}
}

// rootedOnConsume is called when the handler running the message received
// from `from` under epoch finishes. If this
// drains from's count to zero and this node's own deficit is already zero,
// a disengagement ack fires immediately; otherwise it fires later, from
// rootedOnDisengageAck, once the deficit drains.
func (m *Manager) rootedOnConsume(epoch vtrt.EpochID, from vtrt.NodeID) {
	st := m.rootedGetOrCreate(epoch)
	st.mu.Lock()
	if st.engagedTo[from] > 0 {
		st.engagedTo[from]--
	}
	drained := st.engagedTo[from] == 0 && st.deficit == 0
	st.mu.Unlock()

	if drained {
		m.sendDisengage(epoch, st, from)
	}
}

func (m *Manager) rootedFinished(epoch vtrt.EpochID) {
	st := m.rootedGetOrCreate(epoch)
	st.mu.Lock()
	if st.deficit > 0 {
		st.deficit--
	}
	ready := st.deficit == 0
	st.mu.Unlock()
	if ready {
		if st.isOrigin {
			m.actions.fire(epoch)
			return
		}
		m.checkRootedQuiescent(epoch, st)
	}
}

func (m *Manager) rootedDeliver(ctx context.Context, f Frame) error {
	switch f.Kind {
	case kindEngageAck:
		// Informational only in this implementation: the sender already
		// knows it engaged the receiver. No state change required.
		return nil
	case kindDisengageAck:
		m.rootedOnDisengageAck(ctx, f.Epoch, f.From)
		return nil
	}
	return nil
}

func (m *Manager) rootedOnDisengageAck(ctx context.Context, epoch vtrt.EpochID, from vtrt.NodeID) {
	st := m.rootedGetOrCreate(epoch)
	st.mu.Lock()
	if st.deficit > 0 {
		st.deficit--
	}
	zero := st.deficit == 0
	st.mu.Unlock()

	if !zero {
		return
	}
	if st.isOrigin {
		m.actions.fire(epoch)
		return
	}
	m.checkRootedQuiescent(epoch, st)
}

// checkRootedQuiescent sends a disengage ack, for every predecessor whose
// engagement already drained to zero, once this node's own deficit has just
// reached zero. This can cascade: draining this node's deficit may in turn
// let a predecessor drain its own.
func (m *Manager) checkRootedQuiescent(epoch vtrt.EpochID, st *rootedState) {
	st.mu.Lock()
	var ready []vtrt.NodeID
	for pred, cnt := range st.engagedTo {
		if cnt == 0 {
			ready = append(ready, pred)
		}
	}
	for _, pred := range ready {
		delete(st.engagedTo, pred)
	}
	st.mu.Unlock()

	for _, pred := range ready {
		m.sendDisengage(epoch, st, pred)
	}
}

func (m *Manager) sendDisengage(epoch vtrt.EpochID, st *rootedState, to vtrt.NodeID) {
	st.mu.Lock()
	delete(st.engagedTo, to)
	st.mu.Unlock()
	if m.ctrl != nil {
		m.ctrl.SendControl(context.Background(), to, Frame{Kind: kindDisengageAck, Epoch: epoch, From: m.node})
	}
}
