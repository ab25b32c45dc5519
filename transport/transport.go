// Package transport supplies the collective "world" abstraction the rest of
// the runtime is built on: ordered reliable point-to-point delivery between
// ranks, plus a collective barrier. Three implementations are provided: an
// in-process LocalWorld for tests and single-binary demos, a two-rank
// Subprocess transport that bridges a JSON-line protocol over os/exec
// pipes, and a star-topology HubTransport/ChildTransport pair that relays
// through rank 0 over arbitrary duplex streams.
package transport

import (
	"context"

	"github.com/nevindra/vtrt"
)

// Transport is the collective collaborator the messenger and scheduler
// packages are built against: collective init returning rank count and self
// rank, ordered reliable point-to-point send, and non-blocking probe/receive.
type Transport interface {
	// Rank returns this process's position in the world, in [0, Size()).
	Rank() vtrt.NodeID

	// Size returns the number of ranks in the world.
	Size() int

	// Send delivers payload to dest. Sends from a single sender to a single
	// destination are delivered in the order submitted.
	Send(ctx context.Context, dest vtrt.NodeID, payload []byte) error

	// Recv blocks until a payload arrives, or ctx is done.
	Recv(ctx context.Context) (from vtrt.NodeID, payload []byte, err error)

	// TryRecv returns immediately; ok is false if nothing is queued.
	TryRecv() (from vtrt.NodeID, payload []byte, ok bool)

	// Barrier blocks until every rank in the world has called Barrier.
	Barrier(ctx context.Context) error

	// Close releases the transport's resources. Which later calls fail
	// depends on the implementation; see ErrTransportClosed.
	Close() error
}
