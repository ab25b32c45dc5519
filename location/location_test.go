package location

import (
	"context"
	"sync"
	"testing"

	"github.com/nevindra/vtrt"
)

type fakeWorld struct {
	mu       sync.Mutex
	managers map[vtrt.NodeID]*Manager
}

type fakeCtrl struct {
	w    *fakeWorld
	from vtrt.NodeID
}

func (c *fakeCtrl) SendWhereIs(ctx context.Context, home vtrt.NodeID, entity vtrt.EntityID) error {
	c.w.mu.Lock()
	mgr := c.w.managers[home]
	c.w.mu.Unlock()
	return mgr.DeliverWhereIs(ctx, c.from, entity)
}

func (c *fakeCtrl) SendWhereIsReply(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, node vtrt.NodeID) error {
	c.w.mu.Lock()
	mgr := c.w.managers[to]
	c.w.mu.Unlock()
	return mgr.DeliverWhereIsReply(ctx, entity, node)
}

func (c *fakeCtrl) SendMigrated(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, newNode vtrt.NodeID) error {
	c.w.mu.Lock()
	mgr := c.w.managers[to]
	c.w.mu.Unlock()
	mgr.DeliverMigrated(entity, newNode)
	return nil
}

func (c *fakeCtrl) Forward(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error {
	c.w.mu.Lock()
	mgr := c.w.managers[dest]
	c.w.mu.Unlock()
	var delivered bool
	err := mgr.RouteMsg(ctx, entity, dest, hop, payload, func() { delivered = true })
	_ = delivered
	return err
}

func newFakeWorld(n int, hopBound, cacheSize int) *fakeWorld {
	w := &fakeWorld{managers: make(map[vtrt.NodeID]*Manager, n)}
	for i := 0; i < n; i++ {
		node := vtrt.NodeID(i)
		w.managers[node] = NewManager(node, &fakeCtrl{w: w, from: node}, hopBound, cacheSize)
	}
	return w
}

func TestGetLocation_LocalIsSynchronous(t *testing.T) {
	w := newFakeWorld(1, 3, 16)
	mgr := w.managers[0]
	mgr.RegisterEntity(1, 0)

	var got vtrt.NodeID
	var called bool
	err := mgr.GetLocation(context.Background(), 1, 0, func(n vtrt.NodeID) { got = n; called = true })
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if !called || got != 0 {
		t.Errorf("called=%v got=%v, want true,0", called, got)
	}
}

func TestGetLocation_RemoteViaWhereIsQuery(t *testing.T) {
	w := newFakeWorld(2, 3, 16)
	w.managers[1].RegisterEntity(42, 1)

	var got vtrt.NodeID
	var called bool
	err := w.managers[0].GetLocation(context.Background(), 42, 1, func(n vtrt.NodeID) { got = n; called = true })
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if !called {
		t.Fatalf("callback never fired")
	}
	if got != 1 {
		t.Errorf("got = %d, want 1", got)
	}

	// Second lookup should now hit the cache synchronously.
	var got2 vtrt.NodeID
	err = w.managers[0].GetLocation(context.Background(), 42, 1, func(n vtrt.NodeID) { got2 = n })
	if err != nil {
		t.Fatalf("GetLocation (cached): %v", err)
	}
	if got2 != 1 {
		t.Errorf("cached got = %d, want 1", got2)
	}
}

func TestGetLocation_UnknownEntityIsStale(t *testing.T) {
	w := newFakeWorld(2, 3, 16)
	err := w.managers[0].GetLocation(context.Background(), 99, 1, func(n vtrt.NodeID) {})
	if err == nil {
		t.Fatalf("expected ErrLocationStale for unregistered entity")
	}
	var stale *ErrLocationStale
	if !errorsAs(err, &stale) {
		t.Errorf("error = %v, want *ErrLocationStale", err)
	}
}

func errorsAs(err error, target **ErrLocationStale) bool {
	e, ok := err.(*ErrLocationStale)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestEntityMigrated_UpdatesHomeAndNewOwner(t *testing.T) {
	w := newFakeWorld(3, 3, 16)
	w.managers[0].RegisterEntity(7, 0)

	if err := w.managers[0].EntityMigrated(context.Background(), 7, 1, nil); err != nil {
		t.Fatalf("EntityMigrated: %v", err)
	}

	var got vtrt.NodeID
	err := w.managers[2].GetLocation(context.Background(), 7, 0, func(n vtrt.NodeID) { got = n })
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if got != 1 {
		t.Errorf("got = %d, want 1 (new owner)", got)
	}
}

func TestRouteMsg_DeliversLocallyWhenHomed(t *testing.T) {
	w := newFakeWorld(1, 3, 16)
	w.managers[0].RegisterEntity(5, 0)

	var delivered bool
	err := w.managers[0].RouteMsg(context.Background(), 5, 0, 0, []byte("x"), func() { delivered = true })
	if err != nil {
		t.Fatalf("RouteMsg: %v", err)
	}
	if !delivered {
		t.Errorf("expected local delivery")
	}
}

func TestRouteMsg_ForwardsViaWhereIsWhenUnresolved(t *testing.T) {
	w := newFakeWorld(2, 3, 16)
	w.managers[1].RegisterEntity(5, 1)

	var delivered bool
	err := w.managers[0].RouteMsg(context.Background(), 5, 1, 0, []byte("x"), func() { delivered = true })
	if err != nil {
		t.Fatalf("RouteMsg: %v", err)
	}
	_ = delivered // delivery happens on node 1 via its own callback, not node 0's
}
