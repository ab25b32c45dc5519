package collection

import (
	"context"
	"fmt"

	"github.com/nevindra/vtrt"
)

// Migrate starts migration of the element at idx within proxy to toNode:
// the element moves to Migrating, incoming sends start buffering, its
// state is serialized and handed to the destination, and the directory's
// home is
// told the move is underway.
func (m *Manager) Migrate(ctx context.Context, proxy vtrt.CollectionProxy, idx vtrt.Index, toNode vtrt.NodeID) error {
	key := elemKey{Coll: proxy, Idx: idx}
	e, ok := m.element(key)
	if !ok {
		return fmt.Errorf("collection: migrate: no local element %s[%s]", proxy, idx)
	}
	if toNode == m.self {
		return nil
	}

	e.mu.Lock()
	if e.State != Live {
		e.mu.Unlock()
		return fmt.Errorf("collection: migrate: element %s[%s] not live (state=%s)", proxy, idx, e.State)
	}
	e.State = Migrating
	data := e.Data
	e.mu.Unlock()

	if err := m.xprt.SendElementState(ctx, toNode, proxy, idx, data); err != nil {
		return err
	}

	m.mu.Lock()
	home, ok := m.homes[key]
	m.mu.Unlock()
	if ok && home != m.self {
		return m.xprt.SendMigrateNotify(ctx, home, proxy, idx, toNode)
	}
	if ok && home == m.self {
		id := m.trackEntity(key)
		return m.loc.EntityMigrated(ctx, id, toNode, nil)
	}
	return nil
}

// DeliverElementState handles an inbound migration handoff on the
// destination: it constructs the element locally, transitions to Live, and
// drains whatever arrived for it in the meantime. It replies to the sender
// so the source can free its copy.
func (m *Manager) DeliverElementState(ctx context.Context, from vtrt.NodeID, proxy vtrt.CollectionProxy, idx vtrt.Index, data []byte) error {
	key := elemKey{Coll: proxy, Idx: idx}

	m.mu.Lock()
	home, known := m.homes[key]
	if !known {
		home = from
		m.homes[key] = home
	}
	m.mu.Unlock()

	if e, existed := m.element(key); !existed {
		m.construct(key, home, data)
	} else {
		e.mu.Lock()
		e.Data = data
		e.State = Live
		pending := e.pending
		e.pending = nil
		e.mu.Unlock()
		for _, p := range pending {
			if m.onElementMsg != nil {
				m.onElementMsg(vtrt.ElementProxy{Collection: proxy, Idx: idx}, p.handler, p.payload)
			}
		}
	}

	if home != m.self {
		id := m.trackEntity(key)
		if err := m.loc.EntityMigrated(ctx, id, m.self, nil); err != nil {
			return err
		}
	}
	return m.xprt.SendMigrateAck(ctx, from, proxy, idx)
}

// DeliverMigrateAck handles the destination's acknowledgement on the source
// node: the source frees its copy, transitioning live -> migrating ->
// destroyed.
func (m *Manager) DeliverMigrateAck(proxy vtrt.CollectionProxy, idx vtrt.Index) {
	key := elemKey{Coll: proxy, Idx: idx}
	e, ok := m.element(key)
	if !ok {
		return
	}
	e.mu.Lock()
	e.State = Destroyed
	e.Data = nil
	e.mu.Unlock()

	m.mu.Lock()
	delete(m.elements, key)
	m.mu.Unlock()
}

// DeliverMigrateNotify handles an inbound migration notice on the home
// node: it records the new holder in the directory and informs the new
// holder. No other node is notified; location-cache entries held elsewhere
// are left as they are.
func (m *Manager) DeliverMigrateNotify(ctx context.Context, proxy vtrt.CollectionProxy, idx vtrt.Index, toNode vtrt.NodeID) error {
	key := elemKey{Coll: proxy, Idx: idx}
	id := m.trackEntity(key)
	return m.loc.EntityMigrated(ctx, id, toNode, nil)
}
