package messenger

import (
	"context"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/collection"
)

type elementMsgFrame struct {
	El      vtrt.ElementProxy
	Handler vtrt.HandlerID
	Payload []byte
}

type elementStateFrame struct {
	Coll vtrt.CollectionProxy
	Idx  vtrt.Index
	Data []byte
}

type migrateNotifyFrame struct {
	Coll   vtrt.CollectionProxy
	Idx    vtrt.Index
	ToNode vtrt.NodeID
}

type migrateAckFrame struct {
	Coll vtrt.CollectionProxy
	Idx  vtrt.Index
}

type collectionTransport struct {
	m *Messenger
}

// NewCollectionTransport wires coll's element messaging, migration handoff
// and location control traffic through m. coll must not have been handed
// any other collection.Transport yet: construct coll's *collection.Manager
// with this return value.
func NewCollectionTransport(m *Messenger, coll *collection.Manager) collection.Transport {
	RegisterSystemRoute(m, elementMsgHandlerID, func(ctx *vtrt.HandlerContext, f elementMsgFrame) {
		coll.DeliverElementMsg(context.Background(), f.El, f.Handler, f.Payload)
	})
	RegisterSystemRoute(m, elementStateHandlerID, func(ctx *vtrt.HandlerContext, f elementStateFrame) {
		if err := coll.DeliverElementState(context.Background(), ctx.From, f.Coll, f.Idx, f.Data); err != nil {
			logRouteErr("element-state", err)
		}
	})
	RegisterSystemRoute(m, migrateNotifyHandlerID, func(ctx *vtrt.HandlerContext, f migrateNotifyFrame) {
		if err := coll.DeliverMigrateNotify(context.Background(), f.Coll, f.Idx, f.ToNode); err != nil {
			logRouteErr("migrate-notify", err)
		}
	})
	RegisterSystemRoute(m, migrateAckHandlerID, func(ctx *vtrt.HandlerContext, f migrateAckFrame) {
		coll.DeliverMigrateAck(f.Coll, f.Idx)
	})
	RegisterSystemRoute(m, collWhereIsHandlerID, func(ctx *vtrt.HandlerContext, f whereIsFrame) {
		if err := coll.DeliverWhereIs(context.Background(), ctx.From, f.Entity); err != nil {
			logRouteErr("coll-where-is", err)
		}
	})
	RegisterSystemRoute(m, collWhereIsReplyHandlerID, func(ctx *vtrt.HandlerContext, f whereIsReplyFrame) {
		if err := coll.DeliverWhereIsReply(context.Background(), f.Entity, f.Node); err != nil {
			logRouteErr("coll-where-is-reply", err)
		}
	})
	RegisterSystemRoute(m, collMigratedHandlerID, func(ctx *vtrt.HandlerContext, f migratedFrame) {
		coll.DeliverMigratedEntity(f.Entity, f.NewNode)
	})
	RegisterSystemRoute(m, collForwardHandlerID, func(ctx *vtrt.HandlerContext, f forwardFrame) {
		if err := coll.DeliverForward(context.Background(), f.Entity, f.Hop, f.Payload); err != nil {
			logRouteErr("coll-forward", err)
		}
	})
	return &collectionTransport{m: m}
}

func (t *collectionTransport) SendElementMsg(ctx context.Context, dest vtrt.NodeID, el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) error {
	return t.m.SendMsg(ctx, dest, elementMsgHandlerID, elementMsgFrame{El: el, Handler: handler, Payload: payload})
}

func (t *collectionTransport) SendElementState(ctx context.Context, dest vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index, data []byte) error {
	return t.m.SendMsgAuto(ctx, dest, elementStateHandlerID, elementStateFrame{Coll: coll, Idx: idx, Data: data})
}

func (t *collectionTransport) SendMigrateNotify(ctx context.Context, home vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index, toNode vtrt.NodeID) error {
	return t.m.SendMsg(ctx, home, migrateNotifyHandlerID, migrateNotifyFrame{Coll: coll, Idx: idx, ToNode: toNode})
}

func (t *collectionTransport) SendMigrateAck(ctx context.Context, dest vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index) error {
	return t.m.SendMsg(ctx, dest, migrateAckHandlerID, migrateAckFrame{Coll: coll, Idx: idx})
}

func (t *collectionTransport) SendWhereIs(ctx context.Context, home vtrt.NodeID, entity vtrt.EntityID) error {
	return t.m.SendMsg(ctx, home, collWhereIsHandlerID, whereIsFrame{Entity: entity})
}

func (t *collectionTransport) SendWhereIsReply(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, node vtrt.NodeID) error {
	return t.m.SendMsg(ctx, to, collWhereIsReplyHandlerID, whereIsReplyFrame{Entity: entity, Node: node})
}

func (t *collectionTransport) SendMigrated(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, newNode vtrt.NodeID) error {
	return t.m.SendMsg(ctx, to, collMigratedHandlerID, migratedFrame{Entity: entity, NewNode: newNode})
}

func (t *collectionTransport) Forward(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error {
	return t.m.SendMsg(ctx, dest, collForwardHandlerID, forwardFrame{Entity: entity, Hop: hop, Payload: payload})
}
