package collection

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nevindra/vtrt"
)

// Broadcast delivers payload to every live element of c exactly once,
// fanning out first across c's node spanning tree and then locally over
// each node's element map. Call on the node originating the broadcast.
// handler rides
// along inside the frame payload since the group layer's tree fan-out
// (group.Manager.Broadcast) only carries an opaque byte string.
func (m *Manager) Broadcast(ctx context.Context, c *Collection, handler vtrt.HandlerID, payload []byte) error {
	region := c.Region()
	if region == nil {
		return fmt.Errorf("collection: broadcast on %s before its spanning tree is built", c.Proxy)
	}
	if err := m.grp.Broadcast(ctx, region, m.self, encodeBroadcastFrame(handler, payload)); err != nil {
		return err
	}
	m.broadcastLocal(c.Proxy, handler, payload)
	return nil
}

// onGroupBroadcast is registered with the group manager's OnBroadcast hook,
// running the same two-stage fan-out per hop: the group layer has already
// forwarded the frame to this node's children by the time this runs, so it
// only needs to deliver to local live elements.
func (m *Manager) onGroupBroadcast(gid vtrt.GroupID, wire []byte) {
	m.mu.Lock()
	proxy, ok := m.regionColl[gid]
	m.mu.Unlock()
	if !ok {
		return
	}
	handler, payload, err := decodeBroadcastFrame(wire)
	if err != nil {
		return
	}
	m.broadcastLocal(proxy, handler, payload)
}

func encodeBroadcastFrame(handler vtrt.HandlerID, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], uint64(handler))
	copy(buf[8:], payload)
	return buf
}

func decodeBroadcastFrame(wire []byte) (vtrt.HandlerID, []byte, error) {
	if len(wire) < 8 {
		return 0, nil, fmt.Errorf("collection: truncated broadcast frame")
	}
	return vtrt.HandlerID(binary.BigEndian.Uint64(wire[:8])), wire[8:], nil
}

func (m *Manager) broadcastLocal(proxy vtrt.CollectionProxy, handler vtrt.HandlerID, payload []byte) {
	m.mu.Lock()
	var targets []vtrt.Index
	for k, e := range m.elements {
		if k.Coll != proxy {
			continue
		}
		e.mu.Lock()
		live := e.State == Live
		e.mu.Unlock()
		if live {
			targets = append(targets, k.Idx)
		}
	}
	m.mu.Unlock()

	for _, idx := range targets {
		if m.onElementMsg != nil {
			m.onElementMsg(vtrt.ElementProxy{Collection: proxy, Idx: idx}, handler, payload)
		}
	}
}
