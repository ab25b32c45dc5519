package messenger

import (
	"context"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/location"
)

type whereIsFrame struct {
	Entity vtrt.EntityID
}

type whereIsReplyFrame struct {
	Entity vtrt.EntityID
	Node   vtrt.NodeID
}

type migratedFrame struct {
	Entity  vtrt.EntityID
	NewNode vtrt.NodeID
}

type forwardFrame struct {
	Entity  vtrt.EntityID
	Hop     int
	Payload []byte
}

type locationTransport struct {
	m        *Messenger
	onForward func(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error
}

// NewLocationTransport wires mgr's where-is/migrated control traffic
// through m over the reserved location routes. onForward handles the
// receive side of Forward: unlike the other three messages, a forwarded
// payload isn't consumed by location.Manager itself, it's handed back to
// whatever domain layer (e.g. a collection manager) knows what to do with
// the bytes once they arrive (location.go's ControlTransport.Forward is a
// pure relay from the location package's point of view).
func NewLocationTransport(m *Messenger, mgr *location.Manager, onForward func(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error) location.ControlTransport {
	RegisterSystemRoute(m, whereIsHandlerID, func(ctx *vtrt.HandlerContext, f whereIsFrame) {
		if err := mgr.DeliverWhereIs(context.Background(), ctx.From, f.Entity); err != nil {
			logRouteErr("where-is", err)
		}
	})
	RegisterSystemRoute(m, whereIsReplyHandlerID, func(ctx *vtrt.HandlerContext, f whereIsReplyFrame) {
		if err := mgr.DeliverWhereIsReply(context.Background(), f.Entity, f.Node); err != nil {
			logRouteErr("where-is-reply", err)
		}
	})
	RegisterSystemRoute(m, migratedHandlerID, func(ctx *vtrt.HandlerContext, f migratedFrame) {
		mgr.DeliverMigrated(f.Entity, f.NewNode)
	})
	RegisterSystemRoute(m, forwardHandlerID, func(ctx *vtrt.HandlerContext, f forwardFrame) {
		if onForward == nil {
			return
		}
		if err := onForward(context.Background(), m.self, f.Entity, f.Hop, f.Payload); err != nil {
			logRouteErr("forward", err)
		}
	})
	return &locationTransport{m: m, onForward: onForward}
}

func (t *locationTransport) SendWhereIs(ctx context.Context, home vtrt.NodeID, entity vtrt.EntityID) error {
	return t.m.SendMsg(ctx, home, whereIsHandlerID, whereIsFrame{Entity: entity})
}

func (t *locationTransport) SendWhereIsReply(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, node vtrt.NodeID) error {
	return t.m.SendMsg(ctx, to, whereIsReplyHandlerID, whereIsReplyFrame{Entity: entity, Node: node})
}

func (t *locationTransport) SendMigrated(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, newNode vtrt.NodeID) error {
	return t.m.SendMsg(ctx, to, migratedHandlerID, migratedFrame{Entity: entity, NewNode: newNode})
}

func (t *locationTransport) Forward(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error {
	return t.m.SendMsg(ctx, dest, forwardHandlerID, forwardFrame{Entity: entity, Hop: hop, Payload: payload})
}
