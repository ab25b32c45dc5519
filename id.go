package vtrt

import "fmt"

// NodeID is the rank of a process in the transport world, in [0, NumNodes).
type NodeID int32

// TagID disambiguates concurrent flows that share a handler.
type TagID int32

// EntityID is an opaque, application-chosen identity for a migratable entity.
type EntityID uint64

// NoTag is the zero value meaning "no explicit tag was supplied".
const NoTag TagID = 0

// HandlerID packs {isObjGroup, id, objIndex} into a dense 64-bit integer, the
// only form the handler registry and the wire envelope ever see. Two
// taxonomies share the space: auto-handlers (free functions
// and functors, objIndex unused) and object-group member handlers (objIndex
// selects the target within a process-wide singleton object at dispatch
// time). Bit layout, LSB first: is_obj_group(1) | id(32) | obj_index(31).
type HandlerID uint64

const (
	handlerObjGroupBits = 1
	handlerIDBits        = 32
	handlerObjIndexBits  = 31

	handlerObjGroupShift = 0
	handlerIDShift        = handlerObjGroupShift + handlerObjGroupBits
	handlerObjIndexShift  = handlerIDShift + handlerIDBits

	handlerIDMask       = uint64(1)<<handlerIDBits - 1
	handlerObjIndexMask = uint64(1)<<handlerObjIndexBits - 1
)

// MakeAutoHandlerID packs a dense registrar id for a free-function/functor handler.
func MakeAutoHandlerID(id uint32) HandlerID {
	return HandlerID(uint64(id)&handlerIDMask) << handlerIDShift
}

// MakeObjGroupHandlerID packs a dense registrar id together with the object
// index of the target within the process-wide singleton it belongs to.
func MakeObjGroupHandlerID(id uint32, objIndex uint32) HandlerID {
	h := HandlerID(1) << handlerObjGroupShift
	h |= HandlerID(uint64(id)&handlerIDMask) << handlerIDShift
	h |= HandlerID(uint64(objIndex)&handlerObjIndexMask) << handlerObjIndexShift
	return h
}

// IsObjGroup reports whether h identifies an object-group member handler.
func (h HandlerID) IsObjGroup() bool {
	return (uint64(h)>>handlerObjGroupShift)&1 == 1
}

// RegistrarID returns the dense id assigned by the handler registrar.
func (h HandlerID) RegistrarID() uint32 {
	return uint32((uint64(h) >> handlerIDShift) & handlerIDMask)
}

// ObjIndex returns the object-group target index. Only meaningful when
// IsObjGroup is true.
func (h HandlerID) ObjIndex() uint32 {
	return uint32((uint64(h) >> handlerObjIndexShift) & handlerObjIndexMask)
}

func (h HandlerID) String() string {
	if h.IsObjGroup() {
		return fmt.Sprintf("Handler(obj#%d[%d])", h.RegistrarID(), h.ObjIndex())
	}
	return fmt.Sprintf("Handler(#%d)", h.RegistrarID())
}

// EpochID packs {is_rooted, has_category, category, origin_node, scope,
// sequence} into a single 64-bit value so a receiver can read epoch
// membership without a table lookup. Bit layout, LSB first:
// is_rooted(1) | has_category(1) | category(4) | origin_node(16) | scope(8) | sequence(32).
type EpochID uint64

const (
	epochRootedBits   = 1
	epochHasCatBits   = 1
	epochCategoryBits = 4
	epochNodeBits     = 16
	epochScopeBits    = 8
	epochSeqBits      = 32

	epochRootedShift   = 0
	epochHasCatShift   = epochRootedShift + epochRootedBits
	epochCategoryShift = epochHasCatShift + epochHasCatBits
	epochNodeShift     = epochCategoryShift + epochCategoryBits
	epochScopeShift    = epochNodeShift + epochNodeBits
	epochSeqShift      = epochScopeShift + epochScopeBits

	epochCategoryMask = uint64(1)<<epochCategoryBits - 1
	epochNodeMask     = uint64(1)<<epochNodeBits - 1
	epochScopeMask    = uint64(1)<<epochScopeBits - 1
	epochSeqMask      = uint64(1)<<epochSeqBits - 1
)

// NoEpoch is the sentinel "no active epoch" value; the top-level global wave
// accounts messages produced in this bucket.
const NoEpoch EpochID = 0

// EpochCategory groups epochs for diagnostic and scoping purposes.
type EpochCategory uint8

const (
	CategoryDefault EpochCategory = iota
	CategoryUser
	CategoryRuntime
	CategoryCollection
)

// MakeEpochRooted packs a rooted (Dijkstra-Scholten) epoch id.
func MakeEpochRooted(node NodeID, scope uint8, seq uint32, cat *EpochCategory) EpochID {
	return makeEpoch(true, node, scope, seq, cat)
}

// MakeEpochCollective packs a collective (4-counter wave) epoch id.
func MakeEpochCollective(node NodeID, scope uint8, seq uint32, cat *EpochCategory) EpochID {
	return makeEpoch(false, node, scope, seq, cat)
}

func makeEpoch(rooted bool, node NodeID, scope uint8, seq uint32, cat *EpochCategory) EpochID {
	var e uint64
	if rooted {
		e |= 1 << epochRootedShift
	}
	if cat != nil {
		e |= 1 << epochHasCatShift
		e |= (uint64(*cat) & epochCategoryMask) << epochCategoryShift
	}
	e |= (uint64(uint32(node)) & epochNodeMask) << epochNodeShift
	e |= (uint64(scope) & epochScopeMask) << epochScopeShift
	e |= (uint64(seq) & epochSeqMask) << epochSeqShift
	return EpochID(e)
}

// IsRooted reports whether e is a rooted (DS) epoch as opposed to collective.
func (e EpochID) IsRooted() bool { return (uint64(e)>>epochRootedShift)&1 == 1 }

// HasCategory reports whether a category was set at creation.
func (e EpochID) HasCategory() bool { return (uint64(e)>>epochHasCatShift)&1 == 1 }

// Category returns the epoch's category; only meaningful if HasCategory.
func (e EpochID) Category() EpochCategory {
	return EpochCategory((uint64(e) >> epochCategoryShift) & epochCategoryMask)
}

// Node returns the originating node embedded in the epoch id.
func (e EpochID) Node() NodeID {
	return NodeID(uint32((uint64(e) >> epochNodeShift) & epochNodeMask))
}

// GetScope returns the scope discriminator (nesting level / caller-chosen tag).
func (e EpochID) GetScope() uint8 {
	return uint8((uint64(e) >> epochScopeShift) & epochScopeMask)
}

// Seq returns the monotonic sequence number that disambiguates epochs with
// otherwise identical node/scope/category/rooted bits.
func (e EpochID) Seq() uint32 {
	return uint32((uint64(e) >> epochSeqShift) & epochSeqMask)
}

// Next returns a new epoch id with the same flags but the following sequence
// number, as used when a node derives a child epoch from a parent.
func (e EpochID) Next() EpochID {
	seq := e.Seq() + 1
	masked := uint64(e) &^ (epochSeqMask << epochSeqShift)
	return EpochID(masked | (uint64(seq)&epochSeqMask)<<epochSeqShift)
}

func (e EpochID) String() string {
	kind := "collective"
	if e.IsRooted() {
		kind = "rooted"
	}
	return fmt.Sprintf("Epoch(%s,node=%d,scope=%d,seq=%d)", kind, e.Node(), e.GetScope(), e.Seq())
}

// GroupID packs {collective?, static?, origin_node, sequence}.
// Bit layout, LSB first: collective(1) | static(1) | origin_node(16) | sequence(46).
type GroupID uint64

const (
	groupCollectiveBits = 1
	groupStaticBits     = 1
	groupNodeBits       = 16
	groupSeqBits        = 46

	groupCollectiveShift = 0
	groupStaticShift     = groupCollectiveShift + groupCollectiveBits
	groupNodeShift       = groupStaticShift + groupStaticBits
	groupSeqShift        = groupNodeShift + groupNodeBits

	groupNodeMask = uint64(1)<<groupNodeBits - 1
	groupSeqMask  = uint64(1)<<groupSeqBits - 1
)

// NoGroup is the sentinel "not sent through a group" value.
const NoGroup GroupID = 0

// MakeGroupID packs a group identity.
func MakeGroupID(collective, static bool, origin NodeID, seq uint64) GroupID {
	var g uint64
	if collective {
		g |= 1 << groupCollectiveShift
	}
	if static {
		g |= 1 << groupStaticShift
	}
	g |= (uint64(uint32(origin)) & groupNodeMask) << groupNodeShift
	g |= (seq & groupSeqMask) << groupSeqShift
	return GroupID(g)
}

func (g GroupID) IsCollective() bool { return (uint64(g)>>groupCollectiveShift)&1 == 1 }
func (g GroupID) IsStatic() bool     { return (uint64(g)>>groupStaticShift)&1 == 1 }
func (g GroupID) OriginNode() NodeID {
	return NodeID(uint32((uint64(g) >> groupNodeShift) & groupNodeMask))
}
func (g GroupID) Seq() uint64 { return (uint64(g) >> groupSeqShift) & groupSeqMask }

func (g GroupID) String() string {
	return fmt.Sprintf("Group(collective=%v,static=%v,origin=%d,seq=%d)", g.IsCollective(), g.IsStatic(), g.OriginNode(), g.Seq())
}

// CallbackID (a "pipe") packs {node, sequence, persist?, send-back-to-sender?}.
// Bit layout, LSB first: persist(1) | send_back(1) | node(16) | sequence(46).
type CallbackID uint64

const (
	cbPersistBits  = 1
	cbSendBackBits = 1
	cbNodeBits     = 16
	cbSeqBits      = 46

	cbPersistShift  = 0
	cbSendBackShift = cbPersistShift + cbPersistBits
	cbNodeShift     = cbSendBackShift + cbSendBackBits
	cbSeqShift      = cbNodeShift + cbNodeBits

	cbNodeMask = uint64(1)<<cbNodeBits - 1
	cbSeqMask  = uint64(1)<<cbSeqBits - 1
)

// MakeCallbackID packs a pipe identity.
func MakeCallbackID(node NodeID, seq uint64, persist, sendBackToSender bool) CallbackID {
	var c uint64
	if persist {
		c |= 1 << cbPersistShift
	}
	if sendBackToSender {
		c |= 1 << cbSendBackShift
	}
	c |= (uint64(uint32(node)) & cbNodeMask) << cbNodeShift
	c |= (seq & cbSeqMask) << cbSeqShift
	return CallbackID(c)
}

func (c CallbackID) Persist() bool           { return (uint64(c)>>cbPersistShift)&1 == 1 }
func (c CallbackID) SendBackToSender() bool  { return (uint64(c)>>cbSendBackShift)&1 == 1 }
func (c CallbackID) Node() NodeID            { return NodeID(uint32((uint64(c) >> cbNodeShift) & cbNodeMask)) }
func (c CallbackID) Seq() uint64             { return (uint64(c) >> cbSeqShift) & cbSeqMask }

// Index is a typed multidimensional key into a virtual collection.
// Only the leading Dims entries are meaningful; unused
// entries are zero. Most collections use 1-3 dimensions.
type Index struct {
	Dims   uint8
	Coords [3]int64
}

// Index1D builds a one-dimensional index.
func Index1D(x int64) Index { return Index{Dims: 1, Coords: [3]int64{x, 0, 0}} }

// Index2D builds a two-dimensional index.
func Index2D(x, y int64) Index { return Index{Dims: 2, Coords: [3]int64{x, y, 0}} }

// X returns the first coordinate.
func (i Index) X() int64 { return i.Coords[0] }

// Y returns the second coordinate (0 if Dims < 2).
func (i Index) Y() int64 { return i.Coords[1] }

func (i Index) String() string {
	switch i.Dims {
	case 1:
		return fmt.Sprintf("(%d)", i.Coords[0])
	case 2:
		return fmt.Sprintf("(%d,%d)", i.Coords[0], i.Coords[1])
	default:
		return fmt.Sprintf("(%d,%d,%d)", i.Coords[0], i.Coords[1], i.Coords[2])
	}
}

// CollectionProxy is a serializable handle to a distributed collection as a
// whole, identified by its collection sequence number alone.
type CollectionProxy struct {
	SeqNum uint32
}

// ElementProxy addresses one element of a collection; it carries no side
// effect on its own.
type ElementProxy struct {
	Collection CollectionProxy
	Idx        Index
}

func (p CollectionProxy) String() string { return fmt.Sprintf("Collection(#%d)", p.SeqNum) }
func (p ElementProxy) String() string {
	return fmt.Sprintf("Collection(#%d)%s", p.Collection.SeqNum, p.Idx)
}
