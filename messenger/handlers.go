package messenger

import "github.com/nevindra/vtrt"

// reservedBase starts the range of HandlerIDs reserved for the runtime's
// own control traffic, kept well clear of the auto-incrementing ids
// vtrt.RegisterHandler hands out to application code starting at 0. These
// are fixed by convention, not minted per instance, since every node must
// agree on the same numeric id for "this is a group broadcast frame"
// regardless of process topology.
const reservedBase uint32 = 0xFFFF0000

var (
	groupHandlerID         = vtrt.MakeAutoHandlerID(reservedBase + 1)
	epochHandlerID         = vtrt.MakeAutoHandlerID(reservedBase + 2)
	whereIsHandlerID       = vtrt.MakeAutoHandlerID(reservedBase + 3)
	whereIsReplyHandlerID  = vtrt.MakeAutoHandlerID(reservedBase + 4)
	migratedHandlerID      = vtrt.MakeAutoHandlerID(reservedBase + 5)
	forwardHandlerID       = vtrt.MakeAutoHandlerID(reservedBase + 6)
	elementMsgHandlerID    = vtrt.MakeAutoHandlerID(reservedBase + 7)
	elementStateHandlerID  = vtrt.MakeAutoHandlerID(reservedBase + 8)
	migrateNotifyHandlerID = vtrt.MakeAutoHandlerID(reservedBase + 9)
	migrateAckHandlerID    = vtrt.MakeAutoHandlerID(reservedBase + 10)

	// collection.Manager embeds its own location.Manager rather than
	// sharing a standalone one, so its where-is/migrated/forward traffic
	// gets its own reserved routes distinct from NewLocationTransport's,
	// in case both are ever wired on the same node.
	collWhereIsHandlerID      = vtrt.MakeAutoHandlerID(reservedBase + 11)
	collWhereIsReplyHandlerID = vtrt.MakeAutoHandlerID(reservedBase + 12)
	collMigratedHandlerID     = vtrt.MakeAutoHandlerID(reservedBase + 13)
	collForwardHandlerID      = vtrt.MakeAutoHandlerID(reservedBase + 14)
)

// reduceHandlerID derives the reserved route for one reduction flavor.
// slot distinguishes concurrently active Reducer[T] instances of different
// result types on the same node: an application registers each distinct T
// it reduces once, at startup, the same way it calls vtrt.RegisterHandler[T]
// once per message type, and passes the same slot on every node so the
// reserved id lines up across the cluster.
func reduceHandlerID(slot uint32) vtrt.HandlerID {
	return vtrt.MakeAutoHandlerID(reservedBase + 100 + slot)
}
