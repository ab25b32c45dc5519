package vtrt

import "fmt"

// RoutingError marks a recoverable routing failure: a send addressed to an
// entity whose location is stale. No package in this module returns it: the
// location manager reports an entity it cannot resolve as
// *location.ErrLocationStale.
type RoutingError struct {
	Entity EntityID
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("vtrt: location stale for entity %d: %s", e.Entity, e.Reason)
}

// ProtocolError marks a protocol violation: a message carrying an epoch
// that has already terminated. Logged and dropped on receive, never
// propagated to user code.
type ProtocolError struct {
	Epoch  EpochID
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("vtrt: protocol violation on %s: %s", e.Epoch, e.Reason)
}

// FatalConfigError marks an unrecoverable configuration problem: unknown
// handler id, unknown collection proxy, group used after destruction,
// out-of-bounds index. The runtime aborts the process on this class of
// error; it is returned rather than panicked so callers can choose how to
// surface the abort (telemetry, diag sink) before exiting.
type FatalConfigError struct {
	Reason string
	Node   NodeID
	Epoch  EpochID
	Handler HandlerID
	TraceEvent uint64
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("vtrt: fatal: %s (node=%d epoch=%s handler=%s trace=%d)",
		e.Reason, e.Node, e.Epoch, e.Handler, e.TraceEvent)
}

// SerializationError marks a type's failure to encode/decode a payload.
// Fatal on the send side, logged-and-aborted on the receive side.
type SerializationError struct {
	TypeName string
	Cause    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("vtrt: serialization failed for %s: %v", e.TypeName, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// ErrGroupStale is returned when a send is attempted on a destroyed,
// non-static group.
type ErrGroupStale struct {
	Group GroupID
}

func (e *ErrGroupStale) Error() string {
	return fmt.Sprintf("vtrt: group %s is stale (destroyed)", e.Group)
}
