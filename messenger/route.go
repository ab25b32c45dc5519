package messenger

import (
	"encoding/json"
	"fmt"

	"github.com/nevindra/vtrt"
)

func decodeOrDefault[T any](decode []vtrt.Decoder[T]) vtrt.Decoder[T] {
	if len(decode) > 0 {
		return decode[0]
	}
	return func(data []byte) (T, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return v, fmt.Errorf("messenger: decode %T: %w", v, err)
		}
		return v, nil
	}
}

// RegisterRoute registers fn as a vtrt handler for T (vtrt.RegisterHandler)
// and teaches m how to decode T off the wire for the returned id. Meant for
// the common case where every node is its own OS process running identical
// wiring code at startup: the process-wide handler registrar then assigns
// matching HandlerIDs across processes for free, since every process runs
// the same registration calls in the same order.
//
// A test simulating several nodes inside one shared process must not call
// this once per simulated node for "the same" route, since every call mints
// a fresh, distinct id from the one process-wide registrar. Register the
// vtrt handler once and attach it to each simulated node's Messenger with
// AddDecoder instead.
func RegisterRoute[T any](m *Messenger, fn func(ctx *vtrt.HandlerContext, msg T), decode ...vtrt.Decoder[T]) vtrt.HandlerID {
	id := vtrt.RegisterHandler(fn)
	AddDecoder(m, id, decode...)
	return id
}

// AddDecoder teaches m how to decode wire bytes for an already-registered
// vtrt handler id, without minting a new one. Dispatch for handler still
// runs through vtrt.Dispatch (the global registrar), so fn must have been
// installed there already (by RegisterRoute, or a bare vtrt.RegisterHandler
// call shared across every simulated node in a test).
func AddDecoder[T any](m *Messenger, handler vtrt.HandlerID, decode ...vtrt.Decoder[T]) {
	dec := decodeOrDefault(decode)
	m.codecMu.Lock()
	m.codecs[handler] = func(data []byte) (any, error) {
		return dec(data)
	}
	m.codecMu.Unlock()
}

// RegisterSystemRoute installs both the decode and dispatch halves for
// handler entirely on m, bypassing vtrt's process-wide registrar. Every
// internal route the messenger itself drives (group/epoch/location/
// collection/reduce control traffic, route_*.go) uses this: those handler
// ids are fixed, reserved constants every node agrees on by convention
// rather than by registration order, so per-instance dispatch is both
// sufficient and correct whether "nodes" are separate OS processes or
// goroutines sharing one process in a test.
func RegisterSystemRoute[T any](m *Messenger, handler vtrt.HandlerID, fn func(ctx *vtrt.HandlerContext, msg T), decode ...vtrt.Decoder[T]) {
	dec := decodeOrDefault(decode)
	m.codecMu.Lock()
	m.codecs[handler] = func(data []byte) (any, error) {
		return dec(data)
	}
	m.localHandlers[handler] = func(ctx *vtrt.HandlerContext, payload any) error {
		msg, ok := payload.(T)
		if !ok {
			return fmt.Errorf("messenger: system route %s: payload type mismatch: want %T, got %T", handler, msg, payload)
		}
		fn(ctx, msg)
		return nil
	}
	m.codecMu.Unlock()
}
