// Package callback implements first-class, serializable callbacks ("pipes"):
// a tagged union over anonymous closures, handler+node sends, broadcasts,
// object-group member sends, and collection element/broadcast sends, all
// dispatched through the Active Messenger.
package callback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nevindra/vtrt"
)

// Kind discriminates the Callback tagged union.
type Kind uint8

const (
	KindAnonymous Kind = iota
	KindNodeSend
	KindNodeBroadcast
	KindObjGroupMember
	KindCollectionElementSend
	KindCollectionBroadcast
)

// Callback is a copyable, serializable "when invoked with a value, do X"
// handle. Exactly one variant's fields are meaningful, selected by Kind.
type Callback struct {
	Kind Kind

	Handler vtrt.HandlerID
	Node    vtrt.NodeID

	Pipe vtrt.CallbackID // KindAnonymous

	Element    vtrt.ElementProxy    // KindCollectionElementSend
	Collection vtrt.CollectionProxy // KindCollectionBroadcast
}

func (c Callback) String() string {
	switch c.Kind {
	case KindAnonymous:
		return fmt.Sprintf("Callback(anon,pipe=%d)", c.Pipe)
	case KindNodeSend:
		return fmt.Sprintf("Callback(send,node=%d,handler=%s)", c.Node, c.Handler)
	case KindNodeBroadcast:
		return fmt.Sprintf("Callback(bcast,handler=%s)", c.Handler)
	case KindObjGroupMember:
		return fmt.Sprintf("Callback(obj,node=%d,handler=%s)", c.Node, c.Handler)
	case KindCollectionElementSend:
		return fmt.Sprintf("Callback(elem,%s,handler=%s)", c.Element, c.Handler)
	case KindCollectionBroadcast:
		return fmt.Sprintf("Callback(collbcast,%s,handler=%s)", c.Collection, c.Handler)
	default:
		return "Callback(?)"
	}
}

// Sender is the narrow Active Messenger surface a Callback's Send dispatches
// through.
type Sender interface {
	SendMsg(ctx context.Context, dest vtrt.NodeID, h vtrt.HandlerID, payload any) error
	BroadcastMsg(ctx context.Context, h vtrt.HandlerID, payload any) error
	SendToElement(ctx context.Context, el vtrt.ElementProxy, h vtrt.HandlerID, payload any) error
	BroadcastToCollection(ctx context.Context, coll vtrt.CollectionProxy, h vtrt.HandlerID, payload any) error
	InvokePipe(ctx context.Context, owner vtrt.NodeID, pipe vtrt.CallbackID, payload any) error
}

// Send dispatches payload through s according to c.Kind.
func (c Callback) Send(ctx context.Context, s Sender, payload any) error {
	switch c.Kind {
	case KindAnonymous:
		return s.InvokePipe(ctx, c.Pipe.Node(), c.Pipe, payload)
	case KindNodeSend, KindObjGroupMember:
		return s.SendMsg(ctx, c.Node, c.Handler, payload)
	case KindNodeBroadcast:
		return s.BroadcastMsg(ctx, c.Handler, payload)
	case KindCollectionElementSend:
		return s.SendToElement(ctx, c.Element, c.Handler, payload)
	case KindCollectionBroadcast:
		return s.BroadcastToCollection(ctx, c.Collection, c.Handler, payload)
	default:
		return fmt.Errorf("callback: unknown kind %d", c.Kind)
	}
}

// NodeSend builds a Callback that, when sent, delivers to handler on node.
func NodeSend(node vtrt.NodeID, handler vtrt.HandlerID) Callback {
	return Callback{Kind: KindNodeSend, Node: node, Handler: handler}
}

// NodeBroadcast builds a Callback that, when sent, delivers to handler on
// every node.
func NodeBroadcast(handler vtrt.HandlerID) Callback {
	return Callback{Kind: KindNodeBroadcast, Handler: handler}
}

// ObjGroupMember builds a Callback addressing a specific object-group
// member handler on node.
func ObjGroupMember(node vtrt.NodeID, handler vtrt.HandlerID) Callback {
	return Callback{Kind: KindObjGroupMember, Node: node, Handler: handler}
}

// ElementSend builds a Callback addressing a single collection element.
func ElementSend(el vtrt.ElementProxy, handler vtrt.HandlerID) Callback {
	return Callback{Kind: KindCollectionElementSend, Element: el, Handler: handler}
}

// CollectionBroadcast builds a Callback addressing every live element of a
// collection.
func CollectionBroadcast(coll vtrt.CollectionProxy, handler vtrt.HandlerID) Callback {
	return Callback{Kind: KindCollectionBroadcast, Collection: coll, Handler: handler}
}

// Table is a node's pipe table: the registry of anonymous, single-use (by
// default) closures a Callback of KindAnonymous can name.
type Table struct {
	self vtrt.NodeID
	seq  atomic.Uint64

	mu    sync.Mutex
	pipes map[vtrt.CallbackID]func(payload any) error
}

// NewTable creates an empty pipe table for self.
func NewTable(self vtrt.NodeID) *Table {
	return &Table{self: self, pipes: make(map[vtrt.CallbackID]func(payload any) error)}
}

// NewAnonymous registers fn as a new single-use pipe and returns its
// CallbackID, taggable into a Callback via Anonymous.
func (t *Table) NewAnonymous(fn func(payload any) error) vtrt.CallbackID {
	seq := t.seq.Add(1)
	id := vtrt.MakeCallbackID(t.self, seq, false, false)
	t.mu.Lock()
	t.pipes[id] = fn
	t.mu.Unlock()
	return id
}

// NewPersistent registers fn as a multi-use pipe (never removed after
// invocation).
func (t *Table) NewPersistent(fn func(payload any) error) vtrt.CallbackID {
	seq := t.seq.Add(1)
	id := vtrt.MakeCallbackID(t.self, seq, true, false)
	t.mu.Lock()
	t.pipes[id] = fn
	t.mu.Unlock()
	return id
}

// Invoke runs the closure registered for id, removing it afterward unless
// it was registered as persistent.
func (t *Table) Invoke(id vtrt.CallbackID, payload any) error {
	t.mu.Lock()
	fn, ok := t.pipes[id]
	if ok && !id.Persist() {
		delete(t.pipes, id)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("callback: unknown or already-consumed pipe %d", id)
	}
	return fn(payload)
}

// Anonymous builds a Callback naming pipe, registered on this table's node.
func Anonymous(pipe vtrt.CallbackID) Callback {
	return Callback{Kind: KindAnonymous, Pipe: pipe}
}
