package vtrt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"
)

// HandlerContext carries the ambient state a handler runs under: the node
// the message arrived from and the epoch it is accounted to.
type HandlerContext struct {
	From  NodeID
	Epoch EpochID
	Tag   TagID

	// Element identifies which collection element this handler is running
	// against, when dispatch originated from a collection send/broadcast.
	// Zero-valued for plain node sends and broadcasts.
	Element ElementProxy
}

// rawHandler is the type-erased callable every registered handler becomes;
// the generic RegisterHandler wrapper below closes over the concrete type.
// It receives the full HandlerID used to address the send so object-group
// entries can recover the target object index at dispatch time instead of
// capturing it in the closure at registration time.
type rawHandler func(ctx *HandlerContext, id HandlerID, payload any) error

// registryEntry is one slot of the dense handler table, indexed directly by
// registrar id for O(1) dispatch.
type registryEntry struct {
	fn     rawHandler
	name   string
	parent string
}

// registrar is the process-wide handler table. A single instance backs the
// package-level free functions; tests may construct their own via
// newRegistrar for isolation.
type registrar struct {
	mu      sync.Mutex
	entries []registryEntry
}

var defaultRegistrar = newRegistrar()

func newRegistrar() *registrar {
	return &registrar{}
}

func (r *registrar) register(fn rawHandler) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uint32(len(r.entries))
	r.entries = append(r.entries, registryEntry{fn: fn})
	return id
}

func (r *registrar) get(h HandlerID) (rawHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int(h.RegistrarID())
	if idx < 0 || idx >= len(r.entries) {
		return nil, false
	}
	return r.entries[idx].fn, true
}

func (r *registrar) setTraceName(h HandlerID, name, parent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int(h.RegistrarID())
	if idx < 0 || idx >= len(r.entries) {
		return
	}
	// NFC-normalize trace names before they ever reach a log line or
	// telemetry span, so names that differ only by Unicode composition
	// don't appear as distinct handlers in diagnostics.
	r.entries[idx].name = norm.NFC.String(name)
	r.entries[idx].parent = norm.NFC.String(parent)
}

func (r *registrar) traceName(h HandlerID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := int(h.RegistrarID())
	if idx < 0 || idx >= len(r.entries) || r.entries[idx].name == "" {
		return h.String()
	}
	return r.entries[idx].name
}

// RegisterHandler registers a free function/functor handler and returns its
// dense HandlerID. Call from an init() function so every handler is
// registered with the same dense id on every node before any message is
// sent. The payload type T is the handler's compile-time tag: at dispatch
// the runtime asserts the delivered payload to T and calls fn.
func RegisterHandler[T any](fn func(ctx *HandlerContext, msg T)) HandlerID {
	id := defaultRegistrar.register(func(ctx *HandlerContext, _ HandlerID, payload any) error {
		msg, ok := payload.(T)
		if !ok {
			var zero T
			return fmt.Errorf("vtrt: handler payload type mismatch: want %T, got %T", zero, payload)
		}
		fn(ctx, msg)
		return nil
	})
	return MakeAutoHandlerID(id)
}

// ObjGroup is a process-wide table of singleton contexts indexed by a dense
// uint32, the runtime model for "object-group member handlers": the object
// pointer is looked up at dispatch time rather than captured in the handler
// closure.
type ObjGroup[T any] struct {
	mu      sync.RWMutex
	objects map[uint32]*T
	seq     atomic.Uint32
}

// NewObjGroup creates an empty object-group table.
func NewObjGroup[T any]() *ObjGroup[T] {
	return &ObjGroup[T]{objects: make(map[uint32]*T)}
}

// Insert installs obj at a freshly minted index and returns it.
func (g *ObjGroup[T]) Insert(obj *T) uint32 {
	idx := g.seq.Add(1) - 1
	g.mu.Lock()
	g.objects[idx] = obj
	g.mu.Unlock()
	return idx
}

// At returns the object at idx, or nil if none is installed there.
func (g *ObjGroup[T]) At(idx uint32) *T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.objects[idx]
}

// RegisterObjGroupHandler registers a member-function handler against group.
// The returned HandlerID is an obj-group id (IsObjGroup() true) addressing
// object index 0; callers address another object with:
//
//	proxy := h.ForObject(idx)
func RegisterObjGroupHandler[T any, M any](group *ObjGroup[T], method func(obj *T, ctx *HandlerContext, msg M)) HandlerID {
	id := defaultRegistrar.register(func(ctx *HandlerContext, fullID HandlerID, payload any) error {
		msg, ok := payload.(M)
		if !ok {
			var zero M
			return fmt.Errorf("vtrt: obj-group handler payload type mismatch: want %T, got %T", zero, payload)
		}
		obj := group.At(fullID.ObjIndex())
		if obj == nil {
			return &FatalConfigError{Reason: fmt.Sprintf("obj-group handler: no object at index %d", fullID.ObjIndex())}
		}
		method(obj, ctx, msg)
		return nil
	})
	return MakeObjGroupHandlerID(id, 0)
}

// ForObject returns the HandlerID that dispatches h's registered method
// against the object at idx in its ObjGroup.
func (h HandlerID) ForObject(idx uint32) HandlerID {
	return MakeObjGroupHandlerID(h.RegistrarID(), idx)
}

// SetHandlerTraceName sets the human-readable name used in diagnostics and
// telemetry for h.
func SetHandlerTraceName(h HandlerID, name string, parentName string) {
	defaultRegistrar.setTraceName(h, name, parentName)
}

// HandlerTraceName returns the human-readable name for h, or its String()
// form if none was set.
func HandlerTraceName(h HandlerID) string {
	return defaultRegistrar.traceName(h)
}

// GetHandler returns the callable registered for h, or ok=false if h is
// unknown. An unknown handler id at dispatch time is a fatal configuration
// error; callers should abort rather than ignore a false ok.
func GetHandler(h HandlerID) (fn func(ctx *HandlerContext, id HandlerID, payload any) error, ok bool) {
	return defaultRegistrar.get(h)
}

// Dispatch resolves h to its registered callable and invokes it with
// payload under ctx; this is the single call site every receive path uses
// to turn a decoded message into a running handler.
func Dispatch(h HandlerID, ctx *HandlerContext, payload any) error {
	fn, ok := GetHandler(h)
	if !ok {
		return &FatalConfigError{Reason: fmt.Sprintf("unknown handler id %s", h)}
	}
	return fn(ctx, h, payload)
}
