// Command vtcluster launches a small cluster of cmd/vtnode containers
// under Docker, wires the host up as rank 0 of a star topology
// (transport.HubTransport) and greets every child over a real OS-process
// boundary, then tears the containers back down. This is the multi-process
// deployment transport/subprocess.go's doc comment describes ("larger
// subprocess worlds compose N of these, one per child, with rank 0 as
// hub"), driven here through Docker's container lifecycle instead of a
// bare os/exec child.
//
// Build the node image first (e.g. `docker build -t vtrt-vtnode -f
// cmd/vtnode/Dockerfile .`), then run this with -image matching that tag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/engine"
	"github.com/nevindra/vtrt/messenger"
	"github.com/nevindra/vtrt/transport"
)

var greetHandlerID = vtrt.MakeAutoHandlerID(0xFFFF0000 + 6001)
var greetReplyHandlerID = vtrt.MakeAutoHandlerID(0xFFFF0000 + 6002)
var shutdownHandlerID = vtrt.MakeAutoHandlerID(0xFFFF0000 + 6003)

type greetMsg struct{ From vtrt.NodeID }
type greetReply struct {
	From    vtrt.NodeID
	Message string
}
type shutdownMsg struct{}

// diagPort is a container port reserved for a future pprof/OTLP scrape
// endpoint on each node; vtnode doesn't listen on it yet, but the mapping
// is set up here so that wiring one in later is a vtnode-side change only.
const diagPort nat.Port = "7070/tcp"

func main() {
	image := flag.String("image", "vtrt-vtnode:latest", "docker image for cmd/vtnode")
	children := flag.Int("children", 2, "number of child containers (cluster size is children+1)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Fatalf("vtcluster: docker client: %v", err)
	}
	defer cli.Close()

	size := *children + 1
	hub := transport.NewHubTransport(size)

	var containerIDs []string
	defer func() {
		for _, id := range containerIDs {
			if err := cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
				log.Printf("vtcluster: remove container %s: %v", id, err)
			}
		}
	}()

	for rank := 1; rank < size; rank++ {
		id, conn, err := startChild(ctx, cli, *image, rank, size)
		if err != nil {
			log.Fatalf("vtcluster: start child rank %d: %v", rank, err)
		}
		containerIDs = append(containerIDs, id)
		hub.AddChild(vtrt.NodeID(rank), conn)
	}

	cfg := vtrt.DefaultConfig()
	cfg.NumNodes = size

	rt, err := engine.Initialize(ctx, hub, cfg)
	if err != nil {
		log.Fatalf("vtcluster: engine.Initialize: %v", err)
	}
	defer rt.Finalize()

	replies := make(chan greetReply, size-1)
	messenger.RegisterSystemRoute(rt.Messenger(), greetReplyHandlerID, func(_ *vtrt.HandlerContext, msg greetReply) {
		replies <- msg
	})

	pumpCtx, stopPump := context.WithCancel(ctx)
	go rt.Scheduler().RunWhile(pumpCtx, func() bool { return pumpCtx.Err() == nil })
	defer stopPump()

	for rank := 1; rank < size; rank++ {
		if err := rt.Messenger().SendMsg(ctx, vtrt.NodeID(rank), greetHandlerID, greetMsg{From: rt.Node()}); err != nil {
			log.Fatalf("vtcluster: greet rank %d: %v", rank, err)
		}
	}

	for i := 0; i < size-1; i++ {
		select {
		case r := <-replies:
			fmt.Printf("vtcluster: %s\n", r.Message)
		case <-ctx.Done():
			log.Fatalf("vtcluster: timed out waiting for greetings: %v", ctx.Err())
		}
	}

	for rank := 1; rank < size; rank++ {
		if err := rt.Messenger().SendMsg(ctx, vtrt.NodeID(rank), shutdownHandlerID, shutdownMsg{}); err != nil {
			log.Printf("vtcluster: shutdown rank %d: %v", rank, err)
		}
	}
}

// startChild creates and starts one vtnode container, attaches its
// stdin/stdout, and returns the hijacked connection HubTransport relays
// frames over. It also publishes diagPort to an ephemeral host port via
// go-connections/nat's types, the same container.Config.ExposedPorts /
// HostConfig.PortBindings shape any docker-client caller uses to publish
// a port, even though nothing listens on it yet.
func startChild(ctx context.Context, cli *client.Client, image string, rank, size int) (string, *hijackedConn, error) {
	cfg := &container.Config{
		Image:        image,
		Env:          []string{"VTRT_RANK=" + strconv.Itoa(rank), "VTRT_SIZE=" + strconv.Itoa(size)},
		ExposedPorts: nat.PortSet{diagPort: {}},
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		StdinOnce:    true,
		Tty:          false,
	}
	hostCfg := &container.HostConfig{
		AutoRemove: false,
		PortBindings: nat.PortMap{
			diagPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
	}
	name := fmt.Sprintf("vtrt-node-%d", rank)
	created, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", nil, fmt.Errorf("create: %w", err)
	}

	hijack, err := cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("attach: %w", err)
	}

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		hijack.Close()
		return "", nil, fmt.Errorf("start: %w", err)
	}

	return created.ID, newHijackedConn(hijack), nil
}

// hijackedConn adapts the docker client's HijackedResponse into the plain
// io.ReadWriteCloser transport.HubTransport.AddChild expects: reads go
// through Reader, since ContainerAttach may hand back a buffered reader
// that already holds bytes read ahead of the raw Conn, while writes and
// close go straight to the underlying connection.
type hijackedConn struct {
	resp types.HijackedResponse
}

func newHijackedConn(resp types.HijackedResponse) *hijackedConn {
	return &hijackedConn{resp: resp}
}

func (h *hijackedConn) Read(p []byte) (int, error)  { return h.resp.Reader.Read(p) }
func (h *hijackedConn) Write(p []byte) (int, error) { return h.resp.Conn.Write(p) }
func (h *hijackedConn) Close() error                { h.resp.Close(); return nil }
