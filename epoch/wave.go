package epoch

import (
	"context"
	"sync"

	"github.com/nevindra/vtrt"
)

// collectiveState is this node's share of a collective epoch's four-counter
// wave: local produced/consumed counts, plus, on the root node only, the
// in-flight reduction round's replies and the consecutive-zero history that
// gates tentative termination.
type collectiveState struct {
	mu       sync.Mutex
	produced int64
	consumed int64

	// root-only fields
	isRoot          bool
	roundInFlight   bool
	replies         map[vtrt.NodeID]Frame
	consecutiveZero int
	lastSumP        int64
}

func (m *Manager) collectiveGetOrCreate(epoch vtrt.EpochID) *collectiveState {
	m.collMu.Lock()
	defer m.collMu.Unlock()
	st, ok := m.collective[epoch]
	if !ok {
		st = &collectiveState{isRoot: epoch.Node() == m.node, replies: make(map[vtrt.NodeID]Frame)}
		m.collective[epoch] = st
	}
	return st
}

func (m *Manager) collectiveOnProduce(epoch vtrt.EpochID) {
	st := m.collectiveGetOrCreate(epoch)
	st.mu.Lock()
	st.produced++
	st.mu.Unlock()
}

func (m *Manager) collectiveOnConsume(epoch vtrt.EpochID) {
	st := m.collectiveGetOrCreate(epoch)
	st.mu.Lock()
	st.consumed++
	st.mu.Unlock()
}

// BeginCollectiveWave starts a new wave round for epoch: the root sends a
// count request directly to every other node, and each node replies
// directly to the root; no spanning tree is used. Call this from the root on a periodic tick
// (the scheduler's idle-poll Progressable is the natural driver).
func (m *Manager) BeginCollectiveWave(ctx context.Context, epoch vtrt.EpochID) error {
	st := m.collectiveGetOrCreate(epoch)
	st.mu.Lock()
	if !st.isRoot || st.roundInFlight {
		st.mu.Unlock()
		return nil
	}
	st.roundInFlight = true
	st.replies = make(map[vtrt.NodeID]Frame)
	st.mu.Unlock()

	// The root counts itself directly rather than round-tripping a request
	// to itself.
	st.mu.Lock()
	self := Frame{Kind: kindWaveReply, Epoch: epoch, From: m.node, Produced: st.produced, Consumed: st.consumed}
	st.replies[m.node] = self
	st.mu.Unlock()

	if m.ctrl == nil {
		return nil
	}
	for n := 0; n < m.numNodes; n++ {
		node := vtrt.NodeID(n)
		if node == m.node {
			continue
		}
		if err := m.ctrl.SendControl(ctx, node, Frame{Kind: kindWaveRequest, Epoch: epoch, From: m.node}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) collectiveDeliver(ctx context.Context, f Frame) error {
	switch f.Kind {
	case kindWaveRequest:
		return m.collectiveReply(ctx, f)
	case kindWaveReply:
		return m.collectiveAccumulate(ctx, f)
	case kindWaveTerminated:
		m.actions.fire(f.Epoch)
		return nil
	}
	return nil
}

func (m *Manager) collectiveReply(ctx context.Context, f Frame) error {
	st := m.collectiveGetOrCreate(f.Epoch)
	st.mu.Lock()
	reply := Frame{Kind: kindWaveReply, Epoch: f.Epoch, From: m.node, Produced: st.produced, Consumed: st.consumed}
	st.mu.Unlock()
	if m.ctrl == nil {
		return nil
	}
	return m.ctrl.SendControl(ctx, f.From, reply)
}

// collectiveAccumulate folds one node's reply into the root's in-flight
// round, and evaluates termination once every rank has replied: the epoch
// is tentatively terminated when two consecutive waves both report the
// same total produced count equal to the total consumed count.
func (m *Manager) collectiveAccumulate(ctx context.Context, f Frame) error {
	st := m.collectiveGetOrCreate(f.Epoch)
	st.mu.Lock()
	if !st.isRoot || !st.roundInFlight {
		st.mu.Unlock()
		return nil
	}
	st.replies[f.From] = f
	if len(st.replies) < m.numNodes {
		st.mu.Unlock()
		return nil
	}

	var sumP, sumC int64
	for _, r := range st.replies {
		sumP += r.Produced
		sumC += r.Consumed
	}
	st.roundInFlight = false

	terminated := false
	if sumP == sumC {
		if st.consecutiveZero > 0 && st.lastSumP == sumP {
			terminated = true
		}
		st.consecutiveZero++
		st.lastSumP = sumP
	} else {
		st.consecutiveZero = 0
	}
	st.mu.Unlock()

	if !terminated {
		return nil
	}
	m.actions.fire(f.Epoch)
	if m.ctrl == nil {
		return nil
	}
	for n := 0; n < m.numNodes; n++ {
		node := vtrt.NodeID(n)
		if node == m.node {
			continue
		}
		if err := m.ctrl.SendControl(ctx, node, Frame{Kind: kindWaveTerminated, Epoch: f.Epoch, From: m.node}); err != nil {
			return err
		}
	}
	return nil
}
