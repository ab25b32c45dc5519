// Command hello_world is the smallest possible runnable demo: node 0
// broadcasts a greeting to every other node and waits, via a collective
// epoch bracket, until every recipient has printed it.
//
// Every simulated node lives in its own goroutine sharing one in-process
// transport.LocalTransport world; see the package doc on
// messenger.RegisterSystemRoute for why the greeting handler is installed
// per node rather than through vtrt.RegisterHandler.
package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/engine"
	"github.com/nevindra/vtrt/messenger"
	"github.com/nevindra/vtrt/transport"
)

const numNodes = 4

// helloHandlerID is a fixed id every simulated node's messenger installs
// the same closure shape under, clear of both messenger's own reserved
// range (0xFFFF0000+1..114) and engine's pipe route (+15).
var helloHandlerID = vtrt.MakeAutoHandlerID(0xFFFF0000 + 5000)

type greeting struct {
	From vtrt.NodeID
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	world := transport.NewLocalWorld(numNodes)
	cfg := vtrt.DefaultConfig()
	cfg.NumNodes = numNodes

	var wg sync.WaitGroup
	for rank := 0; rank < numNodes; rank++ {
		wg.Add(1)
		go runNode(ctx, cancel, &wg, world[rank], cfg)
	}
	wg.Wait()
}

func runNode(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, xprt transport.Transport, cfg vtrt.Config) {
	defer wg.Done()

	rt, err := engine.Initialize(ctx, xprt, cfg)
	if err != nil {
		log.Fatalf("engine.Initialize: %v", err)
	}
	defer rt.Finalize()

	messenger.RegisterSystemRoute(rt.Messenger(), helloHandlerID, func(hctx *vtrt.HandlerContext, msg greeting) {
		fmt.Printf("node %d: hello from node %d\n", rt.Node(), msg.From)
	})

	if rt.Node() == 0 {
		err := rt.RunInEpoch(ctx, func(ep vtrt.EpochID) error {
			return rt.Messenger().BroadcastMsg(ctx, helloHandlerID, greeting{From: rt.Node()},
				messenger.WithEpoch(ep), messenger.WithoutSender())
		})
		if err != nil {
			log.Fatalf("node 0: broadcast: %v", err)
		}
		// Every recipient's handler has already run by the time RunInEpoch's
		// wave detects quiescence (OnConsume only fires after invoke returns),
		// so it's safe to stop every other node's run loop now.
		cancel()
		return
	}

	rt.Scheduler().RunWhile(ctx, func() bool { return ctx.Err() == nil })
}
