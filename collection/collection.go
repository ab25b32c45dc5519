// Package collection implements virtual collections: distributed, named
// sets of elements keyed by a typed multidimensional index, each owned by
// exactly one node at a time and relocatable by migration.
package collection

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/group"
	"github.com/nevindra/vtrt/location"
)

// State is an element's position in the construct/migrate/destroy lifecycle.
type State uint8

const (
	Void State = iota
	Live
	Migrating
	Destroyed
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Migrating:
		return "migrating"
	case Destroyed:
		return "destroyed"
	default:
		return "void"
	}
}

// Element is one node's view of one index of a collection. Data is the
// application payload, opaque to the manager: serialized on migrate-out,
// replaced wholesale on arrival.
type Element struct {
	mu      sync.Mutex
	Idx     vtrt.Index
	State   State
	Data    []byte
	pending []pendingElemMsg // buffered sends while Migrating or before first arrival
}

type pendingElemMsg struct {
	handler vtrt.HandlerID
	payload []byte
}

// Transport is the narrow outbound collaborator the collection manager
// needs: element-addressed sends, migration handoff, and the location
// control traffic it forwards verbatim to satisfy location.ControlTransport.
// Implemented by the messenger over reserved handler ids.
type Transport interface {
	SendElementMsg(ctx context.Context, dest vtrt.NodeID, el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) error
	SendElementState(ctx context.Context, dest vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index, data []byte) error
	SendMigrateNotify(ctx context.Context, home vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index, toNode vtrt.NodeID) error
	SendMigrateAck(ctx context.Context, dest vtrt.NodeID, coll vtrt.CollectionProxy, idx vtrt.Index) error

	location.ControlTransport
}

type elemKey struct {
	Coll vtrt.CollectionProxy
	Idx  vtrt.Index
}

// Collection describes one constructed collection's extent, placement
// policy, and the node-level spanning tree broadcasts/reductions travel
// over.
type Collection struct {
	Proxy      vtrt.CollectionProxy
	Extent     vtrt.Index
	MapHandler MapHandler
	NumNodes   int

	mu     sync.Mutex
	region *group.Region

	modifying    bool
	pendingJoins []Index
}

// Index pairs an index with the serialized state to construct it with; used
// by the dynamic-membership insertion bracket.
type Index struct {
	Idx  vtrt.Index
	Data []byte
}

// Manager is one node's handle to every collection it participates in.
type Manager struct {
	self vtrt.NodeID
	xprt Transport
	grp  *group.Manager
	loc  *location.Manager
	seq  atomic.Uint64

	mu          sync.Mutex
	collections map[vtrt.CollectionProxy]*Collection
	elements    map[elemKey]*Element
	entityKeys  map[vtrt.EntityID]elemKey
	homes       map[elemKey]vtrt.NodeID
	regionColl  map[vtrt.GroupID]vtrt.CollectionProxy

	onElementMsg func(el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte)
}

// NewManager creates a collection manager. hopBound and cacheSize configure
// the location directory each collection's elements are tracked in, shared
// across all collections on this node since EntityID is derived per
// (collection, index) and never collides.
func NewManager(self vtrt.NodeID, xprt Transport, grp *group.Manager, hopBound, cacheSize int) *Manager {
	m := &Manager{
		self:        self,
		xprt:        xprt,
		grp:         grp,
		collections: make(map[vtrt.CollectionProxy]*Collection),
		elements:    make(map[elemKey]*Element),
		entityKeys:  make(map[vtrt.EntityID]elemKey),
		homes:       make(map[elemKey]vtrt.NodeID),
		regionColl:  make(map[vtrt.GroupID]vtrt.CollectionProxy),
	}
	m.loc = location.NewManager(self, m, hopBound, cacheSize)
	grp.OnBroadcast(m.onGroupBroadcast)
	return m
}

// trackRegion records which collection a constructed spanning tree belongs
// to, so an inbound group broadcast frame (identified only by GroupID) can
// be routed back to the right collection's local element map.
func (m *Manager) trackRegion(gid vtrt.GroupID, proxy vtrt.CollectionProxy) {
	m.mu.Lock()
	m.regionColl[gid] = proxy
	m.mu.Unlock()
}

// OnElementMsg registers the callback invoked when a message addressed to a
// locally-held element arrives, after location resolution (the messenger
// wires this to application handler dispatch).
func (m *Manager) OnElementMsg(fn func(el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte)) {
	m.onElementMsg = fn
}

// entityID derives a stable per-(collection,index) EntityID for the location
// directory. Collisions are not a correctness concern for location lookups
// that always carry (coll,idx) context alongside the derived id; the
// manager also keeps an explicit reverse map for the control paths that
// need it.
func entityID(coll vtrt.CollectionProxy, idx vtrt.Index) vtrt.EntityID {
	h := fnv.New64a()
	var buf [4 + 1 + 3*8]byte
	binary.LittleEndian.PutUint32(buf[0:4], coll.SeqNum)
	buf[4] = idx.Dims
	for i, c := range idx.Coords {
		binary.LittleEndian.PutUint64(buf[5+8*i:13+8*i], uint64(c))
	}
	h.Write(buf[:])
	return vtrt.EntityID(h.Sum64())
}

func (m *Manager) trackEntity(key elemKey) vtrt.EntityID {
	id := entityID(key.Coll, key.Idx)
	m.mu.Lock()
	m.entityKeys[id] = key
	m.mu.Unlock()
	return id
}

// newCollection allocates a CollectionProxy and installs bookkeeping; it
// does not itself construct any elements.
func (m *Manager) newCollection(extent vtrt.Index, mh MapHandler, numNodes int) *Collection {
	seq := uint32(m.seq.Add(1))
	proxy := vtrt.CollectionProxy{SeqNum: seq}
	c := &Collection{Proxy: proxy, Extent: extent, MapHandler: mh, NumNodes: numNodes}
	m.mu.Lock()
	m.collections[proxy] = c
	m.mu.Unlock()
	return c
}

// Collection looks up a previously constructed collection.
func (m *Manager) Collection(proxy vtrt.CollectionProxy) (*Collection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[proxy]
	return c, ok
}

// ElementAt addresses idx within proxy; it has no side effect.
func ElementAt(proxy vtrt.CollectionProxy, idx vtrt.Index) vtrt.ElementProxy {
	return vtrt.ElementProxy{Collection: proxy, Idx: idx}
}

// GetElementData returns the locally-held application payload for el, the
// same bytes a migration would hand to the destination. Element state is
// opaque to the manager. Ok is false if el is not currently live on this
// node.
func (m *Manager) GetElementData(el vtrt.ElementProxy) ([]byte, bool) {
	e, ok := m.element(elemKey{Coll: el.Collection, Idx: el.Idx})
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != Live {
		return nil, false
	}
	return e.Data, true
}

// SetElementData overwrites el's locally-held application payload, the way
// a handler mutates its own element's state between messages. Returns false
// if el is not currently live on this node.
func (m *Manager) SetElementData(el vtrt.ElementProxy, data []byte) bool {
	e, ok := m.element(elemKey{Coll: el.Collection, Idx: el.Idx})
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != Live {
		return false
	}
	e.Data = data
	return true
}

func (m *Manager) element(key elemKey) (*Element, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elements[key]
	return e, ok
}

func (m *Manager) construct(key elemKey, home vtrt.NodeID, data []byte) *Element {
	e := &Element{Idx: key.Idx, State: Live, Data: data}
	m.mu.Lock()
	m.elements[key] = e
	m.homes[key] = home
	m.mu.Unlock()
	id := m.trackEntity(key)
	if home == m.self {
		m.loc.RegisterEntity(id, m.self)
	}
	return e
}

// SendToElement routes payload to the one node currently holding el,
// resolving its location first. A node that never constructed or migrated
// el locally has no live homes entry for it;
// such a node still knows el's home statically, from the same MapHandler
// every collection member evaluated identically at CreateBulk time, so that
// is computed and cached on first use rather than treated as an error.
func (m *Manager) SendToElement(ctx context.Context, el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) error {
	key := elemKey{Coll: el.Collection, Idx: el.Idx}
	id := m.trackEntity(key)
	home, ok := m.resolveHome(key)
	if !ok {
		return fmt.Errorf("collection: no known home for %s", el)
	}

	return m.loc.RouteMsg(ctx, id, home, 0, payload, func() {
		m.deliverElementMsgLocal(el, handler, payload)
	})
}

// resolveHome returns key's directory-authority node: the live cache entry
// if one exists, else the statically computable owner from the collection's
// MapHandler (present for every bulk collection; absent for dynamic/
// collective-insert collections, which have no MapHandler and so must have
// already been seen locally to be addressed).
func (m *Manager) resolveHome(key elemKey) (vtrt.NodeID, bool) {
	m.mu.Lock()
	home, ok := m.homes[key]
	if ok {
		m.mu.Unlock()
		return home, true
	}
	c, found := m.collections[key.Coll]
	m.mu.Unlock()
	if !found || c.MapHandler == nil {
		return 0, false
	}

	owner := c.MapHandler.Owner(key.Idx, c.Extent, c.NumNodes)
	m.mu.Lock()
	m.homes[key] = owner
	m.mu.Unlock()
	return owner, true
}

func (m *Manager) deliverElementMsgLocal(el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) {
	key := elemKey{Coll: el.Collection, Idx: el.Idx}
	e, ok := m.element(key)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.State != Live {
		e.pending = append(e.pending, pendingElemMsg{handler: handler, payload: payload})
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	if m.onElementMsg != nil {
		m.onElementMsg(el, handler, payload)
	}
}

// DeliverElementMsg handles an inbound element-addressed payload forwarded
// by the transport/location layer once it resolved to this node.
func (m *Manager) DeliverElementMsg(ctx context.Context, el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) {
	m.deliverElementMsgLocal(el, handler, payload)
}

// --- location.ControlTransport pass-through: the collection manager IS the
// collaborator its own location.Manager calls back into transport through.

func (m *Manager) SendWhereIs(ctx context.Context, home vtrt.NodeID, entity vtrt.EntityID) error {
	return m.xprt.SendWhereIs(ctx, home, entity)
}

func (m *Manager) SendWhereIsReply(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, node vtrt.NodeID) error {
	return m.xprt.SendWhereIsReply(ctx, to, entity, node)
}

func (m *Manager) SendMigrated(ctx context.Context, to vtrt.NodeID, entity vtrt.EntityID, newNode vtrt.NodeID) error {
	return m.xprt.SendMigrated(ctx, to, entity, newNode)
}

func (m *Manager) Forward(ctx context.Context, dest vtrt.NodeID, entity vtrt.EntityID, hop int, payload []byte) error {
	return m.xprt.Forward(ctx, dest, entity, hop, payload)
}

// DeliverWhereIs, DeliverWhereIsReply and DeliverMigrated forward straight
// to the embedded location manager; the messenger calls these over
// reserved handler ids.
func (m *Manager) DeliverWhereIs(ctx context.Context, from vtrt.NodeID, entity vtrt.EntityID) error {
	return m.loc.DeliverWhereIs(ctx, from, entity)
}

func (m *Manager) DeliverWhereIsReply(ctx context.Context, entity vtrt.EntityID, node vtrt.NodeID) error {
	return m.loc.DeliverWhereIsReply(ctx, entity, node)
}

func (m *Manager) DeliverMigratedEntity(entity vtrt.EntityID, newNode vtrt.NodeID) {
	m.loc.DeliverMigrated(entity, newNode)
}

// DeliverForward handles an inbound forwarded element payload: entity
// resolves to a (collection, index) this node has previously seen (as home
// or as a prior holder), so it re-enters the location layer's resolution
// instead of assuming it is now the holder outright.
func (m *Manager) DeliverForward(ctx context.Context, entity vtrt.EntityID, hop int, payload []byte) error {
	m.mu.Lock()
	key, ok := m.entityKeys[entity]
	home := m.homes[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("collection: forwarded payload for unrecognized entity %d", entity)
	}
	el := vtrt.ElementProxy{Collection: key.Coll, Idx: key.Idx}
	return m.loc.RouteMsg(ctx, entity, home, hop, payload, func() {
		m.deliverElementMsgLocal(el, 0, payload)
	})
}
