// Package location implements the per-entity-universe directory that backs
// migratable entities (collection elements, in the common case): a home
// registry, a bounded location cache, and hop-bounded forwarding.
package location

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nevindra/vtrt"
)

// State is the three-way status getLocation/routeMsg reason about.
type State uint8

const (
	Unknown State = iota
	Local
	Remote
)

func (s State) String() string {
	switch s {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

// Record is one entity's location state.
type Record struct {
	State State
	Node  vtrt.NodeID
}

// ErrLocationStale is returned when the home reports the entity doesn't
// exist.
type ErrLocationStale struct {
	Entity vtrt.EntityID
	Home   vtrt.NodeID
}

func (e *ErrLocationStale) Error() string {
	return fmt.Sprintf("location: entity %d unknown at home %d", e.Entity, e.Home)
}

// ControlTransport is the narrow outbound collaborator the manager needs:
// where-is queries/replies, migration notices, and forwarded payload
// delivery. Implemented by the messenger over reserved handler ids.
type ControlTransport interface {
	SendWhereIs(ctx context.Context, home vtrt.NodeID, entity vtrt.EntityID) error
	SendWhereIsReply(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, node vtrt.NodeID) error
	SendMigrated(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, newNode vtrt.NodeID) error
	Forward(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error
}

type pendingSend struct {
	home         vtrt.NodeID
	hop          int
	payload      []byte
	deliverLocal func()
}

// Manager is one node's view of one entity universe's directory.
type Manager struct {
	self     vtrt.NodeID
	ctrl     ControlTransport
	hopBound int

	mu      sync.Mutex
	local   map[vtrt.EntityID]*Record // entities homed at this node
	cache   *lru
	pending map[vtrt.EntityID][]pendingSend
	waiters map[vtrt.EntityID][]func(vtrt.NodeID)

	sf singleflight.Group
}

// NewManager creates a location manager for self. hopBound is K, the
// maximum forward chain before falling back to a home query; cacheSize
// bounds the learned-location LRU.
func NewManager(self vtrt.NodeID, ctrl ControlTransport, hopBound, cacheSize int) *Manager {
	return &Manager{
		self:     self,
		ctrl:     ctrl,
		hopBound: hopBound,
		local:    make(map[vtrt.EntityID]*Record),
		cache:    newLRU(cacheSize),
		pending:  make(map[vtrt.EntityID][]pendingSend),
		waiters:  make(map[vtrt.EntityID][]func(vtrt.NodeID)),
	}
}

// RegisterEntity installs a Local record for id at home, which must be this
// node.
func (m *Manager) RegisterEntity(id vtrt.EntityID, home vtrt.NodeID) {
	if home != m.self {
		return
	}
	m.mu.Lock()
	m.local[id] = &Record{State: Local, Node: m.self}
	m.mu.Unlock()
}

// EntityMigrated atomically updates id's home record to point at toNode,
// informs the new owner, and sends a where-is reply naming toNode to each
// node in gossipTo (skipping toNode and this node). No other node's cache is
// updated. Call on the home node.
func (m *Manager) EntityMigrated(ctx context.Context, id vtrt.EntityID, toNode vtrt.NodeID, gossipTo []vtrt.NodeID) error {
	m.mu.Lock()
	rec, ok := m.local[id]
	if !ok {
		rec = &Record{}
		m.local[id] = rec
	}
	rec.State = Remote
	rec.Node = toNode
	m.mu.Unlock()

	if err := m.ctrl.SendMigrated(ctx, toNode, id, toNode); err != nil {
		return err
	}
	for _, node := range gossipTo {
		if node == toNode || node == m.self {
			continue
		}
		if err := m.ctrl.SendWhereIsReply(ctx, node, id, toNode); err != nil {
			return err
		}
	}
	return nil
}

// GetLocation resolves id's current node and invokes cb. If this node is
// home and holds a Local record, cb fires
// synchronously. If cached, cb fires synchronously with the cached value
// and a background validation where-is query is also sent. Otherwise a
// where-is query is sent to home and cb fires once the reply arrives;
// concurrent callers for the same id share one in-flight query.
func (m *Manager) GetLocation(ctx context.Context, id vtrt.EntityID, home vtrt.NodeID, cb func(vtrt.NodeID)) error {
	m.mu.Lock()
	if rec, ok := m.local[id]; ok && rec.State == Local {
		m.mu.Unlock()
		cb(m.self)
		return nil
	}
	if node, ok := m.cache.get(id); ok {
		m.mu.Unlock()
		cb(node)
		// Piggy-back a validation query; its reply just refreshes the cache.
		go m.ctrl.SendWhereIs(ctx, home, id)
		return nil
	}
	m.waiters[id] = append(m.waiters[id], cb)
	m.mu.Unlock()

	_, err, _ := m.sf.Do(fmt.Sprintf("whereis:%d", id), func() (any, error) {
		return nil, m.ctrl.SendWhereIs(ctx, home, id)
	})
	return err
}

// DeliverWhereIs handles an inbound where-is query on the home node: it
// replies with the current location, or with ErrLocationStale-worthy
// information if id is unknown here.
func (m *Manager) DeliverWhereIs(ctx context.Context, from vtrt.NodeID, id vtrt.EntityID) error {
	m.mu.Lock()
	rec, ok := m.local[id]
	m.mu.Unlock()
	if !ok {
		return &ErrLocationStale{Entity: id, Home: m.self}
	}
	node := rec.Node
	if rec.State == Local {
		node = m.self
	}
	return m.ctrl.SendWhereIsReply(ctx, from, id, node)
}

// DeliverWhereIsReply handles an inbound where-is reply: it primes the
// cache and fires every waiting GetLocation callback.
func (m *Manager) DeliverWhereIsReply(ctx context.Context, id vtrt.EntityID, node vtrt.NodeID) error {
	m.mu.Lock()
	if node != m.self {
		m.cache.put(id, node)
	} else {
		delete(m.local, id)
		m.local[id] = &Record{State: Local, Node: m.self}
	}
	waiters := m.waiters[id]
	delete(m.waiters, id)
	pend := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()

	for _, cb := range waiters {
		cb(node)
	}
	for _, p := range pend {
		if node == m.self {
			if p.deliverLocal != nil {
				p.deliverLocal()
			}
			continue
		}
		if err := m.ctrl.Forward(ctx, node, id, p.hop+1, p.payload); err != nil {
			return err
		}
	}
	return nil
}

// DeliverMigrated handles an inbound migration notice naming this node as
// the new owner.
func (m *Manager) DeliverMigrated(id vtrt.EntityID, newNode vtrt.NodeID) {
	if newNode != m.self {
		return
	}
	m.mu.Lock()
	m.local[id] = &Record{State: Local, Node: m.self}
	m.mu.Unlock()
}

// RouteMsg resolves id's location and either calls deliverLocal (this node
// currently holds the entity) or forwards payload toward the resolved node.
// hop is the number of forwards already applied to
// this specific send; once it reaches hopBound, resolution falls back to a
// fresh home query instead of trusting the cache.
func (m *Manager) RouteMsg(ctx context.Context, id vtrt.EntityID, home vtrt.NodeID, hop int, payload []byte, deliverLocal func()) error {
	m.mu.Lock()
	if rec, ok := m.local[id]; ok && rec.State == Local {
		m.mu.Unlock()
		deliverLocal()
		return nil
	}
	if hop < m.hopBound {
		if node, ok := m.cache.get(id); ok {
			m.mu.Unlock()
			if node == m.self {
				deliverLocal()
				return nil
			}
			return m.ctrl.Forward(ctx, node, id, hop+1, payload)
		}
	}
	m.pending[id] = append(m.pending[id], pendingSend{home: home, hop: hop, payload: payload, deliverLocal: deliverLocal})
	m.mu.Unlock()

	_, err, _ := m.sf.Do(fmt.Sprintf("whereis:%d", id), func() (any, error) {
		return nil, m.ctrl.SendWhereIs(ctx, home, id)
	})
	return err
}
