package vtrt

import "fmt"

// EnvelopeFlags is the bit-field gating which trailing envelope fields are
// meaningful. The receive side must consult a flag before reading the
// corresponding optional field.
type EnvelopeFlags uint16

const (
	// FlagHasEpoch marks Envelope.Epoch as meaningful.
	FlagHasEpoch EnvelopeFlags = 1 << iota
	// FlagHasTag marks Envelope.Tag as meaningful.
	FlagHasTag
	// FlagHasGroup marks Envelope.Group as meaningful.
	FlagHasGroup
	// FlagIsPut marks the message as carrying an out-of-band (RDMA-style)
	// payload; Envelope.PutPtr/PutLen/PutTag describe the buffer.
	FlagIsPut
	// FlagIsPackedPut marks a put payload that was packed contiguously
	// rather than referencing the original buffer directly.
	FlagIsPackedPut
	// FlagIsCallback marks the message as invoking a Callback rather than a
	// plain registered handler.
	FlagIsCallback
	// FlagDeliverBcastToSender marks a broadcast that must also be
	// delivered locally on its originating node.
	FlagDeliverBcastToSender
	// FlagHasPriority marks Envelope.Priority as meaningful (build-time
	// optional feature).
	FlagHasPriority
)

// Has reports whether all bits in want are set.
func (f EnvelopeFlags) Has(want EnvelopeFlags) bool { return f&want == want }

// Priority is a (level, value) pair; ties within a level break FIFO.
type Priority struct {
	Level uint8
	Value uint32
}

// Envelope is the fixed-shape header that prefixes every message. Flags
// determine which of the conditional fields are populated; reading an
// optional field whose flag is unset yields an unspecified zero value and
// must not be relied upon.
type Envelope struct {
	Flags EnvelopeFlags

	Dest    NodeID
	Handler HandlerID

	// RefCount governs the send-buffer-to-deallocate transition. Touched
	// only by the send path and the transport completion callback.
	RefCount int32

	Epoch EpochID
	Tag   TagID
	Group GroupID

	Priority Priority

	// PutPtr/PutLen/PutTag describe an out-of-band payload when FlagIsPut is
	// set; the concrete RDMA mechanism is an external collaborator.
	PutPtr uintptr
	PutLen uint64
	PutTag TagID

	// TraceEvent correlates this envelope with a diagnostic/telemetry
	// record. Zero means "no trace event was stamped".
	TraceEvent uint64
}

// NewEnvelope returns a zero envelope addressed to dest for handler h.
func NewEnvelope(dest NodeID, h HandlerID) Envelope {
	return Envelope{Dest: dest, Handler: h, RefCount: 1}
}

// SetEpoch stamps e and sets FlagHasEpoch.
func (e *Envelope) SetEpoch(epoch EpochID) {
	e.Epoch = epoch
	e.Flags |= FlagHasEpoch
}

// GetEpoch returns (epoch, ok); ok is false if FlagHasEpoch is unset.
func (e Envelope) GetEpoch() (EpochID, bool) {
	if !e.Flags.Has(FlagHasEpoch) {
		return NoEpoch, false
	}
	return e.Epoch, true
}

// SetTag stamps tag and sets FlagHasTag.
func (e *Envelope) SetTag(tag TagID) {
	e.Tag = tag
	e.Flags |= FlagHasTag
}

// GetTag returns (tag, ok); ok is false if FlagHasTag is unset.
func (e Envelope) GetTag() (TagID, bool) {
	if !e.Flags.Has(FlagHasTag) {
		return NoTag, false
	}
	return e.Tag, true
}

// SetGroup stamps group and sets FlagHasGroup.
func (e *Envelope) SetGroup(group GroupID) {
	e.Group = group
	e.Flags |= FlagHasGroup
}

// GetGroup returns (group, ok); ok is false if FlagHasGroup is unset.
func (e Envelope) GetGroup() (GroupID, bool) {
	if !e.Flags.Has(FlagHasGroup) {
		return NoGroup, false
	}
	return e.Group, true
}

// SetPut stamps the out-of-band buffer descriptor and sets FlagIsPut.
func (e *Envelope) SetPut(ptr uintptr, length uint64, tag TagID, packed bool) {
	e.PutPtr, e.PutLen, e.PutTag = ptr, length, tag
	e.Flags |= FlagIsPut
	if packed {
		e.Flags |= FlagIsPackedPut
	}
}

// IsPut reports whether this envelope carries an out-of-band payload.
func (e Envelope) IsPut() bool { return e.Flags.Has(FlagIsPut) }

// SetPriority stamps p and sets FlagHasPriority.
func (e *Envelope) SetPriority(p Priority) {
	e.Priority = p
	e.Flags |= FlagHasPriority
}

// GetPriority returns (priority, ok); ok is false if FlagHasPriority is unset.
func (e Envelope) GetPriority() (Priority, bool) {
	if !e.Flags.Has(FlagHasPriority) {
		return Priority{}, false
	}
	return e.Priority, true
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{dest=%d handler=%s flags=%#x}", e.Dest, e.Handler, uint16(e.Flags))
}
