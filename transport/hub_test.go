package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nevindra/vtrt"
)

// newHubCluster wires a HubTransport to n-1 ChildTransports over in-memory
// net.Pipe connections, the same duplex-stream shape cmd/vtcluster gets from
// a container's attached stdio.
func newHubCluster(n int) (*HubTransport, []*ChildTransport) {
	hub := NewHubTransport(n)
	children := make([]*ChildTransport, n)
	for rank := 1; rank < n; rank++ {
		hubSide, childSide := net.Pipe()
		hub.AddChild(vtrt.NodeID(rank), hubSide)
		children[rank] = NewChildTransport(vtrt.NodeID(rank), n, childSide, childSide)
	}
	return hub, children
}

func TestHubTransport_HostToChild(t *testing.T) {
	hub, children := newHubCluster(3)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := hub.Send(ctx, vtrt.NodeID(1), []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	from, payload, err := children[1].Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if from != 0 {
		t.Errorf("from = %d, want 0", from)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
}

func TestHubTransport_ChildToHost(t *testing.T) {
	hub, children := newHubCluster(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := children[1].Send(ctx, vtrt.NodeID(0), []byte("ack")); err != nil {
		t.Fatalf("send: %v", err)
	}
	from, payload, err := hub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if from != vtrt.NodeID(1) {
		t.Errorf("from = %d, want 1", from)
	}
	if string(payload) != "ack" {
		t.Errorf("payload = %q, want %q", payload, "ack")
	}
}

func TestHubTransport_RelayChildToChild(t *testing.T) {
	hub, children := newHubCluster(3)
	_ = hub
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := children[1].Send(ctx, vtrt.NodeID(2), []byte("sibling")); err != nil {
		t.Fatalf("send: %v", err)
	}
	from, payload, err := children[2].Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if from != vtrt.NodeID(1) {
		t.Errorf("from = %d, want 1", from)
	}
	if string(payload) != "sibling" {
		t.Errorf("payload = %q, want %q", payload, "sibling")
	}
}

func TestHubTransport_Barrier(t *testing.T) {
	n := 4
	hub, children := newHubCluster(n)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	arrived := make([]bool, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Barrier(ctx); err != nil {
			t.Errorf("hub barrier: %v", err)
			return
		}
		mu.Lock()
		arrived[0] = true
		mu.Unlock()
	}()
	for rank := 1; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			if err := children[rank].Barrier(ctx); err != nil {
				t.Errorf("child %d barrier: %v", rank, err)
				return
			}
			mu.Lock()
			arrived[rank] = true
			mu.Unlock()
		}(rank)
	}
	wg.Wait()

	for rank, ok := range arrived {
		if !ok {
			t.Errorf("rank %d never returned from barrier", rank)
		}
	}
}

func TestHubTransport_RankAndSize(t *testing.T) {
	hub, children := newHubCluster(3)
	if hub.Rank() != 0 {
		t.Errorf("hub rank = %d, want 0", hub.Rank())
	}
	if hub.Size() != 3 {
		t.Errorf("hub size = %d, want 3", hub.Size())
	}
	for rank := 1; rank < 3; rank++ {
		if children[rank].Rank() != vtrt.NodeID(rank) {
			t.Errorf("child %d: Rank() = %d", rank, children[rank].Rank())
		}
		if children[rank].Size() != 3 {
			t.Errorf("child %d: Size() = %d, want 3", rank, children[rank].Size())
		}
	}
}

func TestHubTransport_TryRecvEmpty(t *testing.T) {
	hub, children := newHubCluster(2)
	if _, _, ok := hub.TryRecv(); ok {
		t.Errorf("hub TryRecv on empty inbox returned ok=true")
	}
	if _, _, ok := children[1].TryRecv(); ok {
		t.Errorf("child TryRecv on empty inbox returned ok=true")
	}
}
