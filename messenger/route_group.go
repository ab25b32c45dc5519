package messenger

import (
	"context"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/group"
)

// groupTransport adapts a Messenger to group.Transport: every group
// construction and broadcast/reduce-contribute control frame rides the one
// reserved handler id, carried as-is since group.Frame is already the wire
// shape group.Manager wants back on delivery.
type groupTransport struct {
	m *Messenger
}

// NewGroupTransport wires grp's outbound control traffic through m. Call
// once per node; every node must wire the same *group.Manager instance's
// frames to this same reserved route.
func NewGroupTransport(m *Messenger, grp *group.Manager) group.Transport {
	RegisterSystemRoute(m, groupHandlerID, func(ctx *vtrt.HandlerContext, f group.Frame) {
		if err := grp.Deliver(context.Background(), f); err != nil {
			logRouteErr("group", err)
		}
	})
	return &groupTransport{m: m}
}

func (t *groupTransport) SendGroup(ctx context.Context, dest vtrt.NodeID, f group.Frame) error {
	return t.m.SendMsg(ctx, dest, groupHandlerID, f)
}
