// Command ring forwards a single token around a ring of nodes a fixed
// number of times, tracked end to end by one Dijkstra-Scholten rooted
// epoch. Node numNodes-1 originates the token;
// the ring visits 0,1,...,numNodes-2 and back to numNodes-1 each lap, so
// the originator is also the one every lap's last hop lands back on.
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

const (
	numNodes = 4
	rounds   = 2
)

var ringHandlerID = vtrt.MakeAutoHandlerID(0xFFFF0000 + 5001)

type ringMsg struct {
	Hop int // 1-based count of forwards so far, including this delivery
}

func next(n vtrt.NodeID) vtrt.NodeID {
	if int(n) == numNodes-1 {
		return 0
	}
	return n + 1
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

	totalHops := rounds * numNodes

	messenger.RegisterSystemRoute(rt.Messenger(), ringHandlerID, func(hctx *vtrt.HandlerContext, msg ringMsg) {
		fmt.Printf("node %d: forward #%d, from node %d\n", rt.Node(), msg.Hop, hctx.From)
		if msg.Hop >= totalHops {
			return
		}
		if err := rt.Messenger().SendMsg(ctx, next(rt.Node()), ringHandlerID, ringMsg{Hop: msg.Hop + 1},
			messenger.WithEpoch(hctx.Epoch)); err != nil {
			log.Printf("node %d: forward: %v", rt.Node(), err)
		}
	})

	origin := vtrt.NodeID(numNodes - 1)
	if rt.Node() == origin {
		ep := rt.BeginRooted(0)
		quiescent := make(chan struct{})
		rt.Epoch().RegisterAction(ep, func() { close(quiescent) })

		if err := rt.Messenger().SendMsg(ctx, next(rt.Node()), ringHandlerID, ringMsg{Hop: 1}, messenger.WithEpoch(ep)); err != nil {
			log.Fatalf("node %d: start ring: %v", rt.Node(), err)
		}
		// No further sends will be produced for ep from this node; the
		// ring's remaining hops drain the deficit DS accounted for that
		// one send as each forwarding node consumes and re-sends.
		rt.Epoch().FinishedEpoch(ep)

		rt.Scheduler().RunWhile(ctx, func() bool {
			select {
			case <-quiescent:
				return false
			default:
				return true
			}
		})
		cancel()
		return
	}

	rt.Scheduler().RunWhile(ctx, func() bool { return ctx.Err() == nil })
}
