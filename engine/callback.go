package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nevindra/vtrt"
)

// senderAdapter satisfies callback.Sender by routing each call to the
// matching Runtime collaborator; a Callback only ever needs one of these
// methods per Kind; see callback.Callback.Send.
type senderAdapter struct{ rt *Runtime }

func (s *senderAdapter) SendMsg(ctx context.Context, dest vtrt.NodeID, h vtrt.HandlerID, payload any) error {
	return s.rt.msg.SendMsg(ctx, dest, h, payload)
}

func (s *senderAdapter) BroadcastMsg(ctx context.Context, h vtrt.HandlerID, payload any) error {
	return s.rt.msg.BroadcastMsg(ctx, h, payload)
}

func (s *senderAdapter) SendToElement(ctx context.Context, el vtrt.ElementProxy, h vtrt.HandlerID, payload any) error {
	wire, err := encodePipePayload(payload)
	if err != nil {
		return err
	}
	return s.rt.coll.SendToElement(ctx, el, h, wire)
}

func (s *senderAdapter) BroadcastToCollection(ctx context.Context, coll vtrt.CollectionProxy, h vtrt.HandlerID, payload any) error {
	c, ok := s.rt.coll.Collection(coll)
	if !ok {
		return fmt.Errorf("engine: broadcast to unknown collection %s", coll)
	}
	wire, err := encodePipePayload(payload)
	if err != nil {
		return err
	}
	return s.rt.coll.Broadcast(ctx, c, h, wire)
}

func (s *senderAdapter) InvokePipe(ctx context.Context, owner vtrt.NodeID, pipe vtrt.CallbackID, payload any) error {
	if owner == s.rt.self {
		return s.rt.pipes.Invoke(pipe, payload)
	}
	wire, err := encodePipePayload(payload)
	if err != nil {
		return err
	}
	return s.rt.msg.SendMsg(ctx, owner, pipeHandlerID, pipeFrame{Pipe: pipe, Payload: json.RawMessage(wire)})
}

// encodePipePayload mirrors messenger's own Codec-or-JSON fallback
// (messenger.encodePayload is unexported, and element/collection sends take
// raw bytes rather than the `any` the Sender interface carries).
func encodePipePayload(payload any) ([]byte, error) {
	if c, ok := payload.(vtrt.Codec); ok {
		return c.Encode()
	}
	return json.Marshal(payload)
}
