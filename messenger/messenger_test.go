package messenger

import (
	"context"
	"sync"
	"testing"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/epoch"
	"github.com/nevindra/vtrt/scheduler"
	"github.com/nevindra/vtrt/transport"
)

// noopCtrl discards termination-detector control frames; these tests never
// drive a wave round, so nothing is ever sent through it.
type noopCtrl struct{}

func (noopCtrl) SendControl(ctx context.Context, dest vtrt.NodeID, f epoch.Frame) error { return nil }

// msgWorld wires n Messengers over transport.NewLocalWorld, mirroring
// engine.Initialize's construction order without pulling in group/collection.
type msgWorld struct {
	n      int
	xprt   []transport.Transport
	sched  []*scheduler.Scheduler
	msg    []*Messenger
}

func newMsgWorld(n int) *msgWorld {
	w := &msgWorld{n: n, xprt: transport.NewLocalWorld(n)}
	for i := 0; i < n; i++ {
		sched := scheduler.New(0)
		ep := epoch.NewManager(vtrt.NodeID(i), n, noopCtrl{})
		w.sched = append(w.sched, sched)
		w.msg = append(w.msg, New(vtrt.NodeID(i), w.xprt[i], sched, ep, vtrt.DefaultConfig()))
	}
	return w
}

// runUntil drains every node's scheduler until pred is satisfied or the
// round budget is exhausted. Each round polls every node's Messenger
// directly (rather than going through scheduler.IsIdle, which only reports
// activity without running the work it enqueues) and then drains that
// node's ready queue, since a send from node A needs node B's own
// Progress+run cycle to pick it up off the transport.
func (w *msgWorld) runUntil(t *testing.T, pred func() bool) {
	t.Helper()
	ctx := context.Background()
	for round := 0; round < 200 && !pred(); round++ {
		for i, m := range w.msg {
			if _, err := m.Progress(ctx); err != nil {
				t.Fatalf("node %d Progress: %v", i, err)
			}
			if err := w.sched[i].RunWhile(ctx, func() bool { return w.sched[i].QueueLen() > 0 }); err != nil {
				t.Fatalf("node %d RunWhile: %v", i, err)
			}
		}
	}
	if !pred() {
		t.Fatal("runUntil: predicate never satisfied within round budget")
	}
}

type pingMsg struct {
	Seq int
}

// TestSendMsg_PointToPointOrdering checks that K messages from node 0 to
// node 1 under the same (handler, tag) arrive in send order.
func TestSendMsg_PointToPointOrdering(t *testing.T) {
	w := newMsgWorld(2)
	const k = 20

	var mu sync.Mutex
	var got []int
	handler := vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, msg pingMsg) {
		mu.Lock()
		got = append(got, msg.Seq)
		mu.Unlock()
	})
	for _, m := range w.msg {
		AddDecoder[pingMsg](m, handler)
	}

	ctx := context.Background()
	for i := 0; i < k; i++ {
		if err := w.msg[0].SendMsg(ctx, 1, handler, pingMsg{Seq: i}, WithTag(7)); err != nil {
			t.Fatalf("SendMsg %d: %v", i, err)
		}
	}

	w.runUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == k
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != k {
		t.Fatalf("got %d deliveries, want %d", len(got), k)
	}
	for i, seq := range got {
		if seq != i {
			t.Fatalf("delivery %d has Seq=%d, want %d (out of send order)", i, seq, i)
		}
	}
}

// TestSendMsg_SelfSendBypassesTransport checks that sending to one's own
// rank delivers without ever touching the transport.
func TestSendMsg_SelfSendBypassesTransport(t *testing.T) {
	w := newMsgWorld(1)
	var got int
	var mu sync.Mutex
	handler := vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, msg pingMsg) {
		mu.Lock()
		got = msg.Seq
		mu.Unlock()
	})

	ctx := context.Background()
	if err := w.msg[0].SendMsg(ctx, 0, handler, pingMsg{Seq: 42}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	w.runUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 42
	})
}

// TestSendMsgAuto_RendezvousPathForLargePayload confirms a payload over the
// eager threshold still arrives intact via the header+data rendezvous split.
func TestSendMsgAuto_RendezvousPathForLargePayload(t *testing.T) {
	xprt := transport.NewLocalWorld(2)
	w := &msgWorld{n: 2, xprt: xprt}
	for i := 0; i < 2; i++ {
		sched := scheduler.New(0)
		ep := epoch.NewManager(vtrt.NodeID(i), 2, noopCtrl{})
		w.sched = append(w.sched, sched)
		w.msg = append(w.msg, New(vtrt.NodeID(i), xprt[i], sched, ep, vtrt.DefaultConfig(), WithEagerThreshold(8)))
	}

	type bigMsg struct{ Body string }
	var mu sync.Mutex
	var got string
	handler := vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, msg bigMsg) {
		mu.Lock()
		got = msg.Body
		mu.Unlock()
	})
	for _, m := range w.msg {
		AddDecoder[bigMsg](m, handler)
	}

	body := "this payload is deliberately longer than the eight-byte eager threshold"
	ctx := context.Background()
	if err := w.msg[0].SendMsgAuto(ctx, 1, handler, bigMsg{Body: body}); err != nil {
		t.Fatalf("SendMsgAuto: %v", err)
	}
	w.runUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == body
	})
}

// registerCountingRoute installs, on every node in w under the same reserved
// handler id (RegisterSystemRoute, not the global registrar), a closure that
// increments that receiving node's own slot in counts — so the tree-relay
// hop a broadcast frame took to reach a node (recoverable only via
// HandlerContext.From, which names the immediate relay, not the root) never
// matters to the assertion.
func registerCountingRoute(w *msgWorld, counts []int, mu *sync.Mutex) vtrt.HandlerID {
	reserved := vtrt.MakeAutoHandlerID(1 << 21)
	for i, m := range w.msg {
		i := i
		RegisterSystemRoute(m, reserved, func(ctx *vtrt.HandlerContext, msg pingMsg) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})
	}
	return reserved
}

// TestBroadcastMsg_CoversEveryNodeExceptSender checks broadcast coverage
// in the deliver-bcast-to-sender = false case.
func TestBroadcastMsg_CoversEveryNodeExceptSender(t *testing.T) {
	const n = 5
	w := newMsgWorld(n)

	var mu sync.Mutex
	counts := make([]int, n)
	handler := registerCountingRoute(w, counts, &mu)

	ctx := context.Background()
	if err := w.msg[0].BroadcastMsg(ctx, handler, pingMsg{Seq: 1}, WithoutSender()); err != nil {
		t.Fatalf("BroadcastMsg: %v", err)
	}

	total := func() int {
		mu.Lock()
		defer mu.Unlock()
		sum := 0
		for _, c := range counts {
			sum += c
		}
		return sum
	}
	w.runUntil(t, func() bool { return total() == n-1 })

	mu.Lock()
	defer mu.Unlock()
	if counts[0] != 0 {
		t.Errorf("sender (node 0) invocation count = %d, want 0", counts[0])
	}
	for i := 1; i < n; i++ {
		if counts[i] != 1 {
			t.Errorf("node %d invocation count = %d, want 1", i, counts[i])
		}
	}
}

// TestBroadcastMsg_IncludesSenderWhenRequested covers the
// deliver-bcast-to-sender = true default.
func TestBroadcastMsg_IncludesSenderWhenRequested(t *testing.T) {
	const n = 4
	w := newMsgWorld(n)

	var mu sync.Mutex
	counts := make([]int, n)
	handler := registerCountingRoute(w, counts, &mu)

	ctx := context.Background()
	if err := w.msg[0].BroadcastMsg(ctx, handler, pingMsg{Seq: 1}); err != nil {
		t.Fatalf("BroadcastMsg: %v", err)
	}

	total := func() int {
		mu.Lock()
		defer mu.Unlock()
		sum := 0
		for _, c := range counts {
			sum += c
		}
		return sum
	}
	w.runUntil(t, func() bool { return total() == n })

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if counts[i] != 1 {
			t.Errorf("node %d invocation count = %d, want 1", i, counts[i])
		}
	}
}

// TestRecvDataMsg_BufferedEarlyArrival covers the recvDataMsg/SendData
// rendezvous-receive half for data arriving before the waiter is
// registered.
func TestRecvDataMsg_BufferedEarlyArrival(t *testing.T) {
	w := newMsgWorld(2)
	ctx := context.Background()
	if err := w.msg[0].SendData(ctx, 1, vtrt.TagID(9), []byte("hello")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	w.runUntil(t, func() bool {
		w.msg[1].dataMu.Lock()
		_, buffered := w.msg[1].earlyData[vtrt.TagID(9)]
		w.msg[1].dataMu.Unlock()
		return buffered
	})

	var mu sync.Mutex
	var got string
	w.msg[1].RecvDataMsg(vtrt.TagID(9), func(from vtrt.NodeID, data []byte) {
		mu.Lock()
		got = string(data)
		mu.Unlock()
	})
	mu.Lock()
	defer mu.Unlock()
	if got != "hello" {
		t.Fatalf("RecvDataMsg got %q, want %q", got, "hello")
	}
}

// TestRegisterSystemRoute_InternalHandlerBypassesGlobalRegistrar confirms a
// fixed reserved route dispatches without ever touching vtrt.RegisterHandler
// (the shape every route_*.go control channel relies on).
func TestRegisterSystemRoute_InternalHandlerBypassesGlobalRegistrar(t *testing.T) {
	w := newMsgWorld(2)
	reserved := vtrt.MakeAutoHandlerID(1 << 20)

	var mu sync.Mutex
	var got int
	RegisterSystemRoute(w.msg[1], reserved, func(ctx *vtrt.HandlerContext, msg pingMsg) {
		mu.Lock()
		got = msg.Seq
		mu.Unlock()
	})
	RegisterSystemRoute(w.msg[0], reserved, func(ctx *vtrt.HandlerContext, msg pingMsg) {})

	ctx := context.Background()
	if err := w.msg[0].SendMsg(ctx, 1, reserved, pingMsg{Seq: 11}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	w.runUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 11
	})
}
