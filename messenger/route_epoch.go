package messenger

import (
	"context"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/epoch"
)

type epochTransport struct {
	m *Messenger
}

// NewEpochTransport wires mgr's engage/disengage/wave control traffic
// through m over the reserved epoch route.
func NewEpochTransport(m *Messenger, mgr *epoch.Manager) epoch.ControlTransport {
	RegisterSystemRoute(m, epochHandlerID, func(ctx *vtrt.HandlerContext, f epoch.Frame) {
		if err := mgr.Deliver(context.Background(), f); err != nil {
			logRouteErr("epoch", err)
		}
	})
	return &epochTransport{m: m}
}

func (t *epochTransport) SendControl(ctx context.Context, dest vtrt.NodeID, f epoch.Frame) error {
	return t.m.SendMsg(ctx, dest, epochHandlerID, f)
}
