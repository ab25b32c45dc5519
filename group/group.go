// Package group implements region description and construction: rooted
// groups (a single authority node knows the membership) and collective
// groups (every member agrees on an identical GroupID), plus the binomial
// spanning tree used to fan out broadcasts and fan in reductions.
package group

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nevindra/vtrt"
)

// Transport is the narrow outbound collaborator group construction and
// broadcast/reduce dispatch need: deliver a small control frame to another
// rank. Implemented by the messenger over a reserved handler id, mirroring
// epoch.ControlTransport.
type Transport interface {
	SendGroup(ctx context.Context, dest vtrt.NodeID, frame Frame) error
}

type frameKind uint8

const (
	kindAnnounce frameKind = iota
	kindBroadcast
	kindReduceContribute
)

// Frame is the wire shape for group-construction and group-dispatch
// control traffic.
type Frame struct {
	Kind    frameKind
	Group   vtrt.GroupID
	Members []vtrt.NodeID
	Tag     uint64
	Payload []byte
}

// Region describes a constructed group's membership and topology.
type Region struct {
	ID       vtrt.GroupID
	Members  []vtrt.NodeID // sorted ascending
	Root     vtrt.NodeID   // authority for rooted groups, elected root for collective
	Static   bool
	tree     *Tree
}

// Rank returns node's position within Members, or -1 if not a member.
func (r *Region) Rank(node vtrt.NodeID) int {
	for i, m := range r.Members {
		if m == node {
			return i
		}
	}
	return -1
}

// Manager tracks every Region this node is a member or authority of, and
// drives collective-group construction and tree-based dispatch.
type Manager struct {
	self vtrt.NodeID
	xprt Transport
	seq  atomic.Uint64

	mu      sync.Mutex
	regions map[vtrt.GroupID]*Region

	pendingMu sync.Mutex
	pending   map[string]chan *Region

	// onBroadcast, if set, is invoked for each locally-arrived broadcast
	// payload before it is forwarded down the tree. The messenger wires
	// this to dispatch into the target handler.
	onBroadcast func(group vtrt.GroupID, payload []byte)
}

// OnBroadcast registers the callback invoked when a group broadcast payload
// reaches this node, before forwarding to children.
func (m *Manager) OnBroadcast(fn func(group vtrt.GroupID, payload []byte)) {
	m.onBroadcast = fn
}

// NewManager creates a group manager for self, speaking group-construction
// and dispatch control traffic over xprt.
func NewManager(self vtrt.NodeID, xprt Transport) *Manager {
	return &Manager{
		self:    self,
		xprt:    xprt,
		regions: make(map[vtrt.GroupID]*Region),
		pending: make(map[string]chan *Region),
	}
}

// electKnownRoot picks the deterministic coordinator for a collective
// group's construction: the lowest-ranked member.
func electKnownRoot(members []vtrt.NodeID) vtrt.NodeID {
	root := members[0]
	for _, m := range members[1:] {
		if m < root {
			root = m
		}
	}
	return root
}

func sortedCopy(members []vtrt.NodeID) []vtrt.NodeID {
	out := append([]vtrt.NodeID(nil), members...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// membershipKey disambiguates concurrent CreateCollective calls over the
// same membership: tag is a caller-supplied correlation id (e.g. derived
// from an enclosing collective epoch or sequence already agreed elsewhere).
func membershipKey(members []vtrt.NodeID, tag uint64) string {
	s := fmt.Sprintf("%d:", tag)
	for _, m := range members {
		s += fmt.Sprintf("%d,", m)
	}
	return s
}

// CreateRooted registers a rooted group unilaterally: only the authority
// (this node) needs to know the membership up front; non-root members learn
// it lazily the first time they receive a message tagged with this group.
// Call only on the intended root.
func (m *Manager) CreateRooted(members []vtrt.NodeID, static bool) *Region {
	members = sortedCopy(members)
	seq := m.seq.Add(1)
	id := vtrt.MakeGroupID(false, static, m.self, seq)
	r := &Region{ID: id, Members: members, Root: m.self, Static: static}
	r.tree = BuildTree(members, m.self)

	m.mu.Lock()
	m.regions[id] = r
	m.mu.Unlock()
	return r
}

// CreateCollective constructs a group with identical membership on every
// member and returns the same Region on every caller, once all have called
// it with the same (members, tag). The elected root assigns the sequence
// number and announces it down the spanning tree built over the full
// membership; everyone else blocks until the announcement arrives.
func (m *Manager) CreateCollective(ctx context.Context, members []vtrt.NodeID, tag uint64, static bool) (*Region, error) {
	members = sortedCopy(members)
	root := electKnownRoot(members)

	if root == m.self {
		seq := m.seq.Add(1)
		id := vtrt.MakeGroupID(true, static, root, seq)
		r := &Region{ID: id, Members: members, Root: root, Static: static}
		r.tree = BuildTree(members, root)

		m.mu.Lock()
		m.regions[id] = r
		m.mu.Unlock()

		for _, child := range r.tree.Children(m.self) {
			if err := m.xprt.SendGroup(ctx, child, Frame{Kind: kindAnnounce, Group: id, Members: members, Tag: tag}); err != nil {
				return nil, err
			}
		}
		return r, nil
	}

	key := membershipKey(members, tag)
	ch := make(chan *Region, 1)
	m.pendingMu.Lock()
	m.pending[key] = ch
	m.pendingMu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver handles inbound group-construction and group-dispatch control
// frames.
func (m *Manager) Deliver(ctx context.Context, f Frame) error {
	switch f.Kind {
	case kindAnnounce:
		return m.deliverAnnounce(ctx, f)
	case kindBroadcast:
		return m.deliverBroadcast(ctx, f)
	}
	return nil
}

func (m *Manager) deliverBroadcast(ctx context.Context, f Frame) error {
	if m.onBroadcast != nil {
		m.onBroadcast(f.Group, f.Payload)
	}
	r, ok := m.Region(f.Group)
	if !ok {
		return nil
	}
	return m.Broadcast(ctx, r, m.self, f.Payload)
}

func (m *Manager) deliverAnnounce(ctx context.Context, f Frame) error {
	root := f.Group.OriginNode()
	r := &Region{ID: f.Group, Members: f.Members, Root: root, Static: f.Group.IsStatic()}
	r.tree = BuildTree(f.Members, root)

	m.mu.Lock()
	m.regions[f.Group] = r
	m.mu.Unlock()

	for _, child := range r.tree.Children(m.self) {
		if err := m.xprt.SendGroup(ctx, child, Frame{Kind: kindAnnounce, Group: f.Group, Members: f.Members, Tag: f.Tag}); err != nil {
			return err
		}
	}

	key := membershipKey(sortedCopy(f.Members), f.Tag)
	m.pendingMu.Lock()
	ch, ok := m.pending[key]
	delete(m.pending, key)
	m.pendingMu.Unlock()
	if ok {
		ch <- r
	}
	return nil
}

// Region looks up an already-constructed group by id.
func (m *Manager) Region(id vtrt.GroupID) (*Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	return r, ok
}

// Destroy removes a non-static group from the manager; sends addressed to
// it afterward must fail with vtrt.ErrGroupStale.
func (m *Manager) Destroy(id vtrt.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, id)
}
