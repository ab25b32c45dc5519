package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/nevindra/vtrt"
)

// subprocessFrame is the newline-delimited wire message: one JSON object
// per line, base64 payload since envelopes carry arbitrary binary.
type subprocessFrame struct {
	From    int32  `json:"from"`
	Payload string `json:"payload"`
}

// SubprocessTransport bridges two ranks across an OS process boundary: the
// parent launches a child via os/exec and exchanges JSON-line-encoded
// frames over its stdin/stdout pipes. Only two-rank worlds are supported
// directly; larger subprocess worlds compose N of these, one per child,
// with rank 0 as hub.
type SubprocessTransport struct {
	self vtrt.NodeID
	size int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	writeMu sync.Mutex
	readMu  sync.Mutex

	inbox chan localMsg
	errCh chan error

	closed bool
	mu     sync.Mutex
}

// NewSubprocessParent launches bin with args as rank 1 of a two-rank world
// and returns the rank-0 endpoint talking to it over stdio.
func NewSubprocessParent(ctx context.Context, bin string, args ...string) (*SubprocessTransport, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start subprocess: %w", err)
	}

	t := &SubprocessTransport{
		self:   0,
		size:   2,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewScanner(stdout),
		inbox:  make(chan localMsg, 256),
		errCh:  make(chan error, 1),
	}
	t.stdout.Buffer(make([]byte, 64*1024), 16*1024*1024)
	go t.readLoop()
	return t, nil
}

// NewSubprocessChild wraps the current process's own stdin/stdout as rank 1,
// the child-side counterpart to NewSubprocessParent. Call from a program
// launched by it.
func NewSubprocessChild(stdin io.Reader, stdout io.WriteCloser) *SubprocessTransport {
	t := &SubprocessTransport{
		self:   1,
		size:   2,
		stdin:  stdout,
		stdout: bufio.NewScanner(stdin),
		inbox:  make(chan localMsg, 256),
		errCh:  make(chan error, 1),
	}
	t.stdout.Buffer(make([]byte, 64*1024), 16*1024*1024)
	go t.readLoop()
	return t
}

func (t *SubprocessTransport) readLoop() {
	for t.stdout.Scan() {
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		var f subprocessFrame
		if err := json.Unmarshal(line, &f); err != nil {
			continue // skip malformed lines rather than aborting the whole stream
		}
		payload, err := base64.StdEncoding.DecodeString(f.Payload)
		if err != nil {
			continue
		}
		t.inbox <- localMsg{from: vtrt.NodeID(f.From), payload: payload}
	}
	if err := t.stdout.Err(); err != nil {
		t.errCh <- err
	}
	close(t.inbox)
}

func (t *SubprocessTransport) Rank() vtrt.NodeID { return t.self }
func (t *SubprocessTransport) Size() int         { return t.size }

func (t *SubprocessTransport) Send(ctx context.Context, dest vtrt.NodeID, payload []byte) error {
	other := vtrt.NodeID(1 - int(t.self))
	if dest != other {
		return fmt.Errorf("transport: subprocess transport only reaches rank %d, got %d", other, dest)
	}
	frame := subprocessFrame{From: int32(t.self), Payload: base64.StdEncoding.EncodeToString(payload)}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

func (t *SubprocessTransport) Recv(ctx context.Context) (vtrt.NodeID, []byte, error) {
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

func (t *SubprocessTransport) TryRecv() (vtrt.NodeID, []byte, bool) {
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

// Barrier exchanges a single empty frame with the peer in each direction.
// Sufficient for a two-rank world; larger subprocess worlds barrier through
// their rank-0 hub instead.
func (t *SubprocessTransport) Barrier(ctx context.Context) error {
	other := vtrt.NodeID(1 - int(t.self))
	if err := t.Send(ctx, other, []byte("barrier")); err != nil {
		return err
	}
	_, payload, err := t.Recv(ctx)
	if err != nil {
		return err
	}
	if string(payload) != "barrier" {
		return fmt.Errorf("transport: unexpected barrier payload %q", payload)
	}
	return nil
}

func (t *SubprocessTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if c, ok := t.stdin.(io.Closer); ok {
		c.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		return t.cmd.Wait()
	}
	return nil
}
