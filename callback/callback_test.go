package callback

import (
	"context"
	"errors"
	"testing"

	"github.com/nevindra/vtrt"
)

type fakeSender struct {
	sentTo   vtrt.NodeID
	sentH    vtrt.HandlerID
	bcastH   vtrt.HandlerID
	elem     vtrt.ElementProxy
	coll     vtrt.CollectionProxy
	pipe     vtrt.CallbackID
	payload  any
	bcastN   int
	invokeN  int
}

func (f *fakeSender) SendMsg(ctx context.Context, dest vtrt.NodeID, h vtrt.HandlerID, payload any) error {
	f.sentTo, f.sentH, f.payload = dest, h, payload
	return nil
}

func (f *fakeSender) BroadcastMsg(ctx context.Context, h vtrt.HandlerID, payload any) error {
	f.bcastH, f.payload = h, payload
	f.bcastN++
	return nil
}

func (f *fakeSender) SendToElement(ctx context.Context, el vtrt.ElementProxy, h vtrt.HandlerID, payload any) error {
	f.elem, f.sentH, f.payload = el, h, payload
	return nil
}

func (f *fakeSender) BroadcastToCollection(ctx context.Context, coll vtrt.CollectionProxy, h vtrt.HandlerID, payload any) error {
	f.coll, f.sentH, f.payload = coll, h, payload
	return nil
}

func (f *fakeSender) InvokePipe(ctx context.Context, owner vtrt.NodeID, pipe vtrt.CallbackID, payload any) error {
	f.pipe, f.payload = pipe, payload
	f.invokeN++
	return nil
}

func TestCallback_NodeSendDispatch(t *testing.T) {
	f := &fakeSender{}
	cb := NodeSend(3, vtrt.MakeAutoHandlerID(5))
	if err := cb.Send(context.Background(), f, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.sentTo != 3 || f.payload != "hi" {
		t.Errorf("sentTo=%d payload=%v", f.sentTo, f.payload)
	}
}

func TestCallback_BroadcastDispatch(t *testing.T) {
	f := &fakeSender{}
	cb := NodeBroadcast(vtrt.MakeAutoHandlerID(1))
	if err := cb.Send(context.Background(), f, 42); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.bcastN != 1 {
		t.Errorf("bcastN = %d, want 1", f.bcastN)
	}
}

func TestCallback_ElementAndCollectionDispatch(t *testing.T) {
	f := &fakeSender{}
	el := vtrt.ElementProxy{Collection: vtrt.CollectionProxy{SeqNum: 1}, Idx: vtrt.Index1D(4)}
	if err := ElementSend(el, vtrt.MakeAutoHandlerID(2)).Send(context.Background(), f, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.elem != el {
		t.Errorf("elem = %v, want %v", f.elem, el)
	}

	coll := vtrt.CollectionProxy{SeqNum: 7}
	if err := CollectionBroadcast(coll, vtrt.MakeAutoHandlerID(2)).Send(context.Background(), f, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.coll != coll {
		t.Errorf("coll = %v, want %v", f.coll, coll)
	}
}

func TestTable_AnonymousSingleUse(t *testing.T) {
	tbl := NewTable(0)
	var got any
	id := tbl.NewAnonymous(func(payload any) error { got = payload; return nil })

	if err := tbl.Invoke(id, "first"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "first" {
		t.Errorf("got = %v, want first", got)
	}

	if err := tbl.Invoke(id, "second"); err == nil {
		t.Fatalf("expected error invoking a consumed single-use pipe")
	}
}

func TestTable_PersistentReusable(t *testing.T) {
	tbl := NewTable(0)
	count := 0
	id := tbl.NewPersistent(func(payload any) error { count++; return nil })

	for i := 0; i < 3; i++ {
		if err := tbl.Invoke(id, nil); err != nil {
			t.Fatalf("Invoke #%d: %v", i, err)
		}
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestTable_UnknownPipeErrors(t *testing.T) {
	tbl := NewTable(0)
	err := tbl.Invoke(vtrt.MakeCallbackID(0, 999, false, false), nil)
	if err == nil {
		t.Fatalf("expected error for unknown pipe")
	}
	if errors.Is(err, nil) {
		t.Fatalf("sanity")
	}
}

func TestCallback_AnonymousDispatchRoutesThroughInvokePipe(t *testing.T) {
	tbl := NewTable(2)
	id := tbl.NewAnonymous(func(any) error { return nil })
	f := &fakeSender{}
	cb := Anonymous(id)
	if err := cb.Send(context.Background(), f, "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.pipe != id || f.invokeN != 1 {
		t.Errorf("pipe=%v invokeN=%d", f.pipe, f.invokeN)
	}
}
