// Command vtnode is the container image cmd/vtcluster launches: one real
// OS process per rank, talking back to the host over its own
// stdin/stdout (transport.ChildTransport), the containerized counterpart
// to transport/subprocess.go's direct two-rank pipe.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

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

func main() {
	rank, err := strconv.Atoi(os.Getenv("VTRT_RANK"))
	if err != nil {
		log.Fatalf("vtnode: bad VTRT_RANK: %v", err)
	}
	size, err := strconv.Atoi(os.Getenv("VTRT_SIZE"))
	if err != nil {
		log.Fatalf("vtnode: bad VTRT_SIZE: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	xprt := transport.NewChildTransport(vtrt.NodeID(rank), size, os.Stdin, os.Stdout)
	cfg := vtrt.DefaultConfig()
	cfg.NumNodes = size

	rt, err := engine.Initialize(ctx, xprt, cfg)
	if err != nil {
		log.Fatalf("vtnode %d: engine.Initialize: %v", rank, err)
	}
	defer rt.Finalize()

	done := make(chan struct{})

	messenger.RegisterSystemRoute(rt.Messenger(), greetHandlerID, func(hctx *vtrt.HandlerContext, msg greetMsg) {
		reply := greetReply{From: rt.Node(), Message: fmt.Sprintf("node %d alive in its own process", rt.Node())}
		if err := rt.Messenger().SendMsg(ctx, hctx.From, greetReplyHandlerID, reply); err != nil {
			log.Printf("vtnode %d: reply: %v", rt.Node(), err)
		}
	})
	messenger.RegisterSystemRoute(rt.Messenger(), shutdownHandlerID, func(_ *vtrt.HandlerContext, _ shutdownMsg) {
		close(done)
	})

	stopCh := make(chan struct{})
	go func() {
		rt.Scheduler().RunWhile(ctx, func() bool {
			select {
			case <-done:
				return false
			default:
				return ctx.Err() == nil
			}
		})
		close(stopCh)
	}()

	select {
	case <-stopCh:
	case <-ctx.Done():
	}
}
