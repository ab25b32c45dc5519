// Package epoch implements termination detection for two families of epoch:
// collective epochs, tracked with a four-counter wave algorithm, and rooted
// epochs, tracked with Dijkstra-Scholten deficit counting. Both share one
// action registry fired, in FIFO order, at quiescence.
package epoch

import (
	"context"
	"sync"

	"github.com/nevindra/vtrt"
)

// ControlTransport is the narrow outbound collaborator the detector needs:
// deliver a small control frame to another rank. The messenger package
// implements this over a reserved handler id.
type ControlTransport interface {
	SendControl(ctx context.Context, dest vtrt.NodeID, frame Frame) error
}

// frameKind tags the handful of control messages the two algorithms
// exchange.
type frameKind uint8

const (
	kindWaveRequest frameKind = iota
	kindWaveReply
	kindWaveTerminated
	kindEngageAck
	kindDisengageAck
)

// Frame is the wire shape for every control message the detector sends.
// Produced/Consumed carry the wave's local counters; From/Epoch identify
// the sender and subject of engage/disengage acks.
type Frame struct {
	Kind     frameKind
	Epoch    vtrt.EpochID
	From     vtrt.NodeID
	Produced int64
	Consumed int64
}

// Manager is one node's termination detector instance: it tracks every
// epoch this node currently knows about (collective or rooted), maintains
// the FIFO action registry, and speaks the control protocol over an
// injected ControlTransport.
type Manager struct {
	node     vtrt.NodeID
	numNodes int
	ctrl     ControlTransport

	actions actionRegistry

	collMu     sync.Mutex
	collective map[vtrt.EpochID]*collectiveState

	dsMu   sync.Mutex
	rooted map[vtrt.EpochID]*rootedState
}

// NewManager creates a detector for node, aware of numNodes total ranks,
// sending control traffic over ctrl.
func NewManager(node vtrt.NodeID, numNodes int, ctrl ControlTransport) *Manager {
	return &Manager{
		node:       node,
		numNodes:   numNodes,
		ctrl:       ctrl,
		collective: make(map[vtrt.EpochID]*collectiveState),
		rooted:     make(map[vtrt.EpochID]*rootedState),
		actions:    newActionRegistry(),
	}
}

// OnProduce records that this node sent a message accounted to epoch:
// producing a message increments the sender's counter. Messages sent
// outside any epoch are accounted to vtrt.NoEpoch's implicit global wave.
func (m *Manager) OnProduce(epoch vtrt.EpochID, dest vtrt.NodeID) {
	if epoch == vtrt.NoEpoch {
		epoch = m.globalEpoch()
	}
	if epoch.IsRooted() {
		m.rootedOnSend(epoch, dest)
		return
	}
	m.collectiveOnProduce(epoch)
}

// OnConsume records that a handler accounted to epoch finished running.
// A handler's exit is the unique consume site.
func (m *Manager) OnConsume(epoch vtrt.EpochID, from vtrt.NodeID) {
	if epoch == vtrt.NoEpoch {
		epoch = m.globalEpoch()
	}
	if epoch.IsRooted() {
		m.rootedOnConsume(epoch, from)
		return
	}
	m.collectiveOnConsume(epoch)
}

// OnReceiveStart must be called before a handler begins running a message
// tagged with epoch, so the rooted detector can track engagement: each
// receiver maintains a per-(predecessor,epoch) engager count. No-op for
// collective epochs.
func (m *Manager) OnReceiveStart(ctx context.Context, epoch vtrt.EpochID, from vtrt.NodeID) {
	if epoch == vtrt.NoEpoch || !epoch.IsRooted() {
		return
	}
	m.rootedOnReceive(ctx, epoch, from)
}

// Deliver dispatches an inbound control frame to the right algorithm.
func (m *Manager) Deliver(ctx context.Context, f Frame) error {
	switch f.Kind {
	case kindWaveRequest, kindWaveReply, kindWaveTerminated:
		return m.collectiveDeliver(ctx, f)
	case kindEngageAck, kindDisengageAck:
		return m.rootedDeliver(ctx, f)
	}
	return nil
}

// RegisterAction queues fn to run, in FIFO order with every other action
// registered against epoch, once epoch is detected terminated. If epoch
// has already terminated, fn runs immediately.
func (m *Manager) RegisterAction(epoch vtrt.EpochID, fn func()) {
	m.actions.registerOrRunIfDone(epoch, fn)
}

// FinishedEpoch marks that no more roots will be produced for epoch from
// this node; for a collective epoch this is purely advisory (the wave
// already detects quiescence), for a rooted epoch it signals the originator
// will issue no further sends.
func (m *Manager) FinishedEpoch(epoch vtrt.EpochID) {
	if epoch.IsRooted() {
		m.rootedFinished(epoch)
	}
}

var globalEpochCat = vtrt.CategoryRuntime

func (m *Manager) globalEpoch() vtrt.EpochID {
	return vtrt.MakeEpochCollective(0, 0, 0, &globalEpochCat)
}
