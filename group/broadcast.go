package group

import (
	"context"

	"github.com/nevindra/vtrt"
)

// Broadcast fans payload out along r's spanning tree starting from self;
// call it on the tree root (or on a node that just forwarded a broadcast
// addressed to the group) to push to every child, which recursively
// forwards to theirs. The local handler invocation, if any, is the
// caller's responsibility.
func (m *Manager) Broadcast(ctx context.Context, r *Region, self vtrt.NodeID, payload []byte) error {
	for _, child := range r.tree.Children(self) {
		if err := m.xprt.SendGroup(ctx, child, Frame{Kind: kindBroadcast, Group: r.ID, Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

// Tree exposes r's spanning tree for callers (the reduction package) that
// need Parent/Children directly.
func (r *Region) Tree() *Tree { return r.tree }
