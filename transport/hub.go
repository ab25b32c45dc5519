package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nevindra/vtrt"
)

// hubFrame is the newline-delimited wire message relayed between the hub
// and its children, the same base64-line shape as subprocessFrame
// generalized with an explicit destination so a rank-0 hub can forward
// traffic between two children that have no direct connection of their
// own (subprocess.go's doc comment: "larger subprocess worlds compose N of
// these, one per child, with rank 0 as hub").
type hubFrame struct {
	From    int32  `json:"from"`
	To      int32  `json:"to"`
	Payload string `json:"payload"`
}

// Sentinel hubFrame.To values for barrier control traffic, out of band from
// application payloads (which always carry a non-negative NodeID).
const (
	hubControlHost    int32 = -1 // child -> hub: barrier arrival
	hubControlRelease int32 = -2 // hub -> child: barrier released
)

func writeHubFrame(w io.Writer, mu *sync.Mutex, f hubFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: marshal hub frame: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	_, err = w.Write(append(data, '\n'))
	return err
}

// childEdge is the hub's view of one connected child: a framed duplex
// stream (normally the hijacked stdio of a docker-attached container) plus
// the bookkeeping needed to relay frames to and from it.
type childEdge struct {
	rank   vtrt.NodeID
	rw     io.ReadWriteCloser
	scan   *bufio.Scanner
	wmu    sync.Mutex
}

// HubTransport is rank 0 of a star-topology cluster: every other rank is a
// child process this host is directly connected to over a duplex byte
// stream, and any child-to-child traffic is relayed through here. Built for
// cmd/vtcluster, where each child's stream is a container's attached
// stdin/stdout rather than a same-host os/exec pipe (subprocess.go's
// SubprocessTransport only handles the direct two-rank case).
type HubTransport struct {
	size int

	mu       sync.Mutex
	children map[vtrt.NodeID]*childEdge

	inbox chan localMsg
	errCh chan error

	barrierMu       sync.Mutex
	barrierArrived  int
	barrierWaiters  []chan struct{}

	closed bool
}

// NewHubTransport creates the host-side endpoint for a size-node cluster.
// Call AddChild once per child stream before any node sends; every rank in
// [1, size) must be registered.
func NewHubTransport(size int) *HubTransport {
	return &HubTransport{
		size:     size,
		children: make(map[vtrt.NodeID]*childEdge),
		inbox:    make(chan localMsg, 256),
		errCh:    make(chan error, 1),
	}
}

// AddChild registers rank's duplex stream and starts relaying frames to and
// from it. rank must be in [1, Size()).
func (h *HubTransport) AddChild(rank vtrt.NodeID, rw io.ReadWriteCloser) {
	scan := bufio.NewScanner(rw)
	scan.Buffer(make([]byte, 64*1024), 16*1024*1024)
	edge := &childEdge{rank: rank, rw: rw, scan: scan}

	h.mu.Lock()
	h.children[rank] = edge
	h.mu.Unlock()

	go h.readLoop(edge)
}

func (h *HubTransport) readLoop(edge *childEdge) {
	for edge.scan.Scan() {
		line := edge.scan.Bytes()
		if len(line) == 0 {
			continue
		}
		var f hubFrame
		if err := json.Unmarshal(line, &f); err != nil {
			continue
		}
		switch {
		case f.To == hubControlHost:
			h.onChildArrived()
		case f.To == 0:
			payload, err := base64.StdEncoding.DecodeString(f.Payload)
			if err != nil {
				continue
			}
			h.inbox <- localMsg{from: vtrt.NodeID(f.From), payload: payload}
		default:
			h.relay(f)
		}
	}
	if err := edge.scan.Err(); err != nil {
		select {
		case h.errCh <- err:
		default:
		}
	}
}

func (h *HubTransport) relay(f hubFrame) {
	h.mu.Lock()
	dest, ok := h.children[vtrt.NodeID(f.To)]
	h.mu.Unlock()
	if !ok {
		return // unknown destination, drop like a link failure would
	}
	_ = writeHubFrame(dest.rw, &dest.wmu, f)
}

func (h *HubTransport) onChildArrived() {
	h.barrierMu.Lock()
	h.barrierArrived++
	ready := h.barrierArrived == h.size
	var waiters []chan struct{}
	if ready {
		waiters = h.barrierWaiters
		h.barrierWaiters = nil
		h.barrierArrived = 0
	}
	h.barrierMu.Unlock()

	if !ready {
		return
	}
	h.mu.Lock()
	edges := make([]*childEdge, 0, len(h.children))
	for _, e := range h.children {
		edges = append(edges, e)
	}
	h.mu.Unlock()
	for _, e := range edges {
		_ = writeHubFrame(e.rw, &e.wmu, hubFrame{From: 0, To: hubControlRelease})
	}
	for _, w := range waiters {
		close(w)
	}
}

func (h *HubTransport) Rank() vtrt.NodeID { return 0 }
func (h *HubTransport) Size() int         { return h.size }

func (h *HubTransport) Send(ctx context.Context, dest vtrt.NodeID, payload []byte) error {
	h.mu.Lock()
	edge, ok := h.children[dest]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: hub has no child for rank %d", dest)
	}
	frame := hubFrame{From: 0, To: int32(dest), Payload: base64.StdEncoding.EncodeToString(payload)}
	return writeHubFrame(edge.rw, &edge.wmu, frame)
}

func (h *HubTransport) Recv(ctx context.Context) (vtrt.NodeID, []byte, error) {
	select {
	case m, ok := <-h.inbox:
		if !ok {
			return 0, nil, ErrTransportClosed
		}
		return m.from, m.payload, nil
	case err := <-h.errCh:
		return 0, nil, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (h *HubTransport) TryRecv() (vtrt.NodeID, []byte, bool) {
	select {
	case m, ok := <-h.inbox:
		if !ok {
			return 0, nil, false
		}
		return m.from, m.payload, true
	default:
		return 0, nil, false
	}
}

// Barrier waits for every child to report its own arrival (their Barrier
// sends a hubControlHost frame and blocks for the release), then counts the
// host itself and releases everyone together.
func (h *HubTransport) Barrier(ctx context.Context) error {
	wait := make(chan struct{})
	h.barrierMu.Lock()
	h.barrierWaiters = append(h.barrierWaiters, wait)
	h.barrierMu.Unlock()
	h.onChildArrived()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HubTransport) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var firstErr error
	for _, e := range h.children {
		if err := e.rw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChildTransport is the container-side endpoint: rank self in [1, size),
// connected only to the hub over stdin/stdout. Sends to any rank other than
// the hub are still written to the same upstream stream, tagged with their
// real destination, so HubTransport.relay can forward them on.
type ChildTransport struct {
	self vtrt.NodeID
	size int

	w    io.Writer
	wmu  sync.Mutex
	scan *bufio.Scanner

	inbox chan localMsg
	errCh chan error

	releaseMu sync.Mutex
	releaseCh chan struct{}

	closer io.Closer
}

// NewChildTransport wraps this container's own stdin/stdout (or any duplex
// stream back to the hub) as rank self of a size-node cluster.
func NewChildTransport(self vtrt.NodeID, size int, stdin io.Reader, stdout io.WriteCloser) *ChildTransport {
	scan := bufio.NewScanner(stdin)
	scan.Buffer(make([]byte, 64*1024), 16*1024*1024)
	t := &ChildTransport{
		self:   self,
		size:   size,
		w:      stdout,
		scan:   scan,
		inbox:  make(chan localMsg, 256),
		errCh:  make(chan error, 1),
		closer: stdout,
	}
	go t.readLoop()
	return t
}

func (t *ChildTransport) readLoop() {
	for t.scan.Scan() {
		line := t.scan.Bytes()
		if len(line) == 0 {
			continue
		}
		var f hubFrame
		if err := json.Unmarshal(line, &f); err != nil {
			continue
		}
		if f.To == hubControlRelease {
			t.releaseMu.Lock()
			ch := t.releaseCh
			t.releaseCh = nil
			t.releaseMu.Unlock()
			if ch != nil {
				close(ch)
			}
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(f.Payload)
		if err != nil {
			continue
		}
		t.inbox <- localMsg{from: vtrt.NodeID(f.From), payload: payload}
	}
	if err := t.scan.Err(); err != nil {
		select {
		case t.errCh <- err:
		default:
		}
	}
	close(t.inbox)
}

func (t *ChildTransport) Rank() vtrt.NodeID { return t.self }
func (t *ChildTransport) Size() int         { return t.size }

func (t *ChildTransport) Send(ctx context.Context, dest vtrt.NodeID, payload []byte) error {
	frame := hubFrame{From: int32(t.self), To: int32(dest), Payload: base64.StdEncoding.EncodeToString(payload)}
	return writeHubFrame(t.w, &t.wmu, frame)
}

func (t *ChildTransport) Recv(ctx context.Context) (vtrt.NodeID, []byte, error) {
	select {
	case m, ok := <-t.inbox:
		if !ok {
			return 0, nil, ErrTransportClosed
		}
		return m.from, m.payload, nil
	case err := <-t.errCh:
		return 0, nil, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *ChildTransport) TryRecv() (vtrt.NodeID, []byte, bool) {
	select {
	case m, ok := <-t.inbox:
		if !ok {
			return 0, nil, false
		}
		return m.from, m.payload, true
	default:
		return 0, nil, false
	}
}

func (t *ChildTransport) Barrier(ctx context.Context) error {
	t.releaseMu.Lock()
	ch := make(chan struct{})
	t.releaseCh = ch
	t.releaseMu.Unlock()

	if err := writeHubFrame(t.w, &t.wmu, hubFrame{From: int32(t.self), To: hubControlHost}); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ChildTransport) Close() error {
	return t.closer.Close()
}
