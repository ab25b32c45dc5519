package engine

import (
	"context"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/collection"
	"github.com/nevindra/vtrt/epoch"
	"github.com/nevindra/vtrt/group"
	"github.com/nevindra/vtrt/reduction"
)

// The four manager constructors in epoch/group/collection/reduction each
// take their outbound transport collaborator as a constructor argument, but
// the messenger package's NewXTransport adapters need the already-built
// manager to register the matching inbound route (route_epoch.go,
// route_group.go, route_collection.go, route_reduce.go). Breaking that
// cycle needs one of the two sides built against a forward reference; these
// small proxies hold that reference so construction can run
// manager-first, transport-second, without touching either package's
// exported constructor signature.

type epochProxy struct{ real epoch.ControlTransport }

func (p *epochProxy) SendControl(ctx context.Context, dest vtrt.NodeID, f epoch.Frame) error {
	return p.real.SendControl(ctx, dest, f)
}

type groupProxy struct{ real group.Transport }

func (p *groupProxy) SendGroup(ctx context.Context, dest vtrt.NodeID, f group.Frame) error {
	return p.real.SendGroup(ctx, dest, f)
}

type collectionProxy struct{ real collection.Transport }

func (p *collectionProxy) SendElementMsg(ctx context.Context, dest vtrt.NodeID, el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) error {
	return p.real.SendElementMsg(ctx, dest, el, handler, payload)
}

func (p *collectionProxy) SendElementState(ctx context.Context, dest vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index, data []byte) error {
	return p.real.SendElementState(ctx, dest, coll, idx, data)
}

func (p *collectionProxy) SendMigrateNotify(ctx context.Context, home vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index, toNode vtrt.NodeID) error {
	return p.real.SendMigrateNotify(ctx, home, coll, idx, toNode)
}

func (p *collectionProxy) SendMigrateAck(ctx context.Context, dest vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index) error {
	return p.real.SendMigrateAck(ctx, dest, coll, idx)
}

func (p *collectionProxy) SendWhereIs(ctx context.Context, home vtrt.NodeID, entity vtrt.EntityID) error {
	return p.real.SendWhereIs(ctx, home, entity)
}

func (p *collectionProxy) SendWhereIsReply(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, node vtrt.NodeID) error {
	return p.real.SendWhereIsReply(ctx, to, entity, node)
}

func (p *collectionProxy) SendMigrated(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, newNode vtrt.NodeID) error {
	return p.real.SendMigrated(ctx, to, entity, newNode)
}

func (p *collectionProxy) Forward(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error {
	return p.real.Forward(ctx, dest, entity, hop, payload)
}

// reduceProxy is generic over the reduced value type, mirroring
// reduction.Reducer[T]'s own type parameter.
type reduceProxy[T any] struct{ real reduction.Transport }

func (p *reduceProxy[T]) SendReduce(ctx context.Context, dest vtrt.NodeID, key reduction.Key, payload []byte) error {
	return p.real.SendReduce(ctx, dest, key, payload)
}
