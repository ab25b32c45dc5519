package messenger

import (
	"context"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/reduction"
)

type reduceFrame struct {
	Key     reduction.Key
	Payload []byte
}

type reduceTransport struct {
	m    *Messenger
	slot uint32
}

// NewReduceTransport wires reducer's contribute-up-the-tree traffic through
// m over the reserved route for slot. reducer's own encode/decode functions
// (passed to reduction.NewReducer) already turn T into bytes and back, so
// this adapter only ever moves opaque (Key, []byte) pairs — it never needs
// to know T itself.
func NewReduceTransport[T any](m *Messenger, reducer *reduction.Reducer[T], slot uint32) reduction.Transport {
	handler := reduceHandlerID(slot)
	RegisterSystemRoute(m, handler, func(ctx *vtrt.HandlerContext, f reduceFrame) {
		if err := reducer.Deliver(context.Background(), f.Key, ctx.From, f.Payload); err != nil {
			logRouteErr("reduce", err)
		}
	})
	return &reduceTransport{m: m, slot: slot}
}

func (t *reduceTransport) SendReduce(ctx context.Context, dest vtrt.NodeID, key reduction.Key, payload []byte) error {
	return t.m.SendMsgAuto(ctx, dest, reduceHandlerID(t.slot), reduceFrame{Key: key, Payload: payload})
}
