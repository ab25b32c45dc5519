// Package reduction implements tree-based collective reductions keyed by
// (group, tag, epoch, sequence): every member contributes a value, and the
// combined result is delivered once to the group's root.
package reduction

import (
	"context"
	"fmt"
	"sync"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/group"
)

// Op combines two contributions into one. Must be associative; commutative
// is recommended since arrival order across children is unspecified.
type Op[T any] func(a, b T) T

// Key identifies one in-flight reduction instance.
type Key struct {
	Group vtrt.GroupID
	Tag   vtrt.TagID
	Epoch vtrt.EpochID
	Seq   uint64
}

func (k Key) String() string {
	return fmt.Sprintf("Reduce(%s,tag=%d,epoch=%s,seq=%d)", k.Group, k.Tag, k.Epoch, k.Seq)
}

// Transport is the narrow outbound collaborator: deliver an encoded partial
// result to a parent in the tree.
type Transport interface {
	SendReduce(ctx context.Context, dest vtrt.NodeID, key Key, payload []byte) error
}

type state[T any] struct {
	mu           sync.Mutex
	have         T
	haveValue    bool
	childrenLeft map[vtrt.NodeID]bool
}

// Reducer drives one type of reduction (one Op/codec pair) for this node
// across however many Key instances are in flight concurrently.
type Reducer[T any] struct {
	self    vtrt.NodeID
	xprt    Transport
	op      Op[T]
	encode  func(T) ([]byte, error)
	decode  func([]byte) (T, error)
	regions func(vtrt.GroupID) (*group.Region, bool)

	mu       sync.Mutex
	inflight map[Key]*state[T]

	onResult func(key Key, result T)
}

// NewReducer creates a Reducer for one value type. regions resolves a
// GroupID to its constructed Region (normally group.Manager.Region).
func NewReducer[T any](self vtrt.NodeID, xprt Transport, op Op[T], encode func(T) ([]byte, error), decode func([]byte) (T, error), regions func(vtrt.GroupID) (*group.Region, bool)) *Reducer[T] {
	return &Reducer[T]{
		self:     self,
		xprt:     xprt,
		op:       op,
		encode:   encode,
		decode:   decode,
		regions:  regions,
		inflight: make(map[Key]*state[T]),
	}
}

// OnResult registers the callback invoked, on the group's root only, once
// every member's contribution has been combined.
func (r *Reducer[T]) OnResult(fn func(key Key, result T)) {
	r.onResult = fn
}

func (r *Reducer[T]) getOrCreate(key Key, region *group.Region) *state[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.inflight[key]
	if !ok {
		children := region.Tree().Children(r.self)
		left := make(map[vtrt.NodeID]bool, len(children))
		for _, c := range children {
			left[c] = true
		}
		st = &state[T]{childrenLeft: left}
		r.inflight[key] = st
	}
	return st
}

// Contribute supplies this node's local value for key. Once this node has
// its own value and every child's partial result, the combined value is
// sent up to the parent (or, at the root, delivered via OnResult).
func (r *Reducer[T]) Contribute(ctx context.Context, key Key, value T) error {
	region, ok := r.regions(key.Group)
	if !ok {
		return fmt.Errorf("reduction: unknown group %s", key.Group)
	}
	st := r.getOrCreate(key, region)

	st.mu.Lock()
	if st.haveValue {
		st.have = r.op(st.have, value)
	} else {
		st.have = value
		st.haveValue = true
	}
	st.mu.Unlock()

	return r.maybeComplete(ctx, key, region, st)
}

// Deliver folds an inbound partial result from a child into key's state.
func (r *Reducer[T]) Deliver(ctx context.Context, key Key, from vtrt.NodeID, payload []byte) error {
	value, err := r.decode(payload)
	if err != nil {
		return fmt.Errorf("reduction: decode partial result: %w", err)
	}
	region, ok := r.regions(key.Group)
	if !ok {
		return fmt.Errorf("reduction: unknown group %s", key.Group)
	}
	st := r.getOrCreate(key, region)

	st.mu.Lock()
	if !st.childrenLeft[from] {
		st.mu.Unlock()
		return fmt.Errorf("reduction: unexpected contribution from non-child %d for %s", from, key)
	}
	delete(st.childrenLeft, from)
	if st.haveValue {
		st.have = r.op(st.have, value)
	} else {
		st.have = value
		st.haveValue = true
	}
	st.mu.Unlock()

	return r.maybeComplete(ctx, key, region, st)
}

func (r *Reducer[T]) maybeComplete(ctx context.Context, key Key, region *group.Region, st *state[T]) error {
	st.mu.Lock()
	ready := st.haveValue && len(st.childrenLeft) == 0
	result := st.have
	st.mu.Unlock()
	if !ready {
		return nil
	}

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()

	if region.Root == r.self {
		if r.onResult != nil {
			r.onResult(key, result)
		}
		return nil
	}

	parent, ok := region.Tree().Parent(r.self)
	if !ok {
		return fmt.Errorf("reduction: non-root %d has no parent in tree for group %s", r.self, key.Group)
	}
	payload, err := r.encode(result)
	if err != nil {
		return fmt.Errorf("reduction: encode partial result: %w", err)
	}
	return r.xprt.SendReduce(ctx, parent, key, payload)
}
