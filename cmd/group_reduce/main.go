// Command group_reduce builds a collective group over only the odd-ranked
// nodes of a 7-node world (every node derives the same membership locally,
// with no negotiation needed since the filter is a pure function of rank),
// then reduces the constant 1 with integer addition to the group's root: a
// group excluding half the world still reduces to exactly its own member
// count, floor(N/2).
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/engine"
	"github.com/nevindra/vtrt/reduction"
	"github.com/nevindra/vtrt/transport"
)

const numNodes = 7

func oddMembers() []vtrt.NodeID {
	var members []vtrt.NodeID
	for i := 1; i < numNodes; i += 2 {
		members = append(members, vtrt.NodeID(i))
	}
	return members
}

func plusOp(a, b int) int { return a + b }

func encodeInt(v int) ([]byte, error) {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}, nil
}

func decodeInt(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("group_reduce: truncated int payload")
	}
	return int(data[0]) | int(data[1])<<8 | int(data[2])<<16 | int(data[3])<<24, nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	world := transport.NewLocalWorld(numNodes)
	cfg := vtrt.DefaultConfig()
	cfg.NumNodes = numNodes

	var wg sync.WaitGroup
	for rank := 0; rank < numNodes; rank++ {
		wg.Add(1)
		go runNode(ctx, &wg, world[rank], cfg)
	}
	wg.Wait()
}

func runNode(ctx context.Context, wg *sync.WaitGroup, xprt transport.Transport, cfg vtrt.Config) {
	defer wg.Done()

	rt, err := engine.Initialize(ctx, xprt, cfg)
	if err != nil {
		log.Fatalf("engine.Initialize: %v", err)
	}
	defer rt.Finalize()

	pumpCtx, stopPump := context.WithCancel(ctx)
	go rt.Scheduler().RunWhile(pumpCtx, func() bool { return pumpCtx.Err() == nil })
	defer stopPump()

	members := oddMembers()
	isMember := false
	for _, m := range members {
		if m == rt.Node() {
			isMember = true
			break
		}
	}
	if !isMember {
		if err := xprt.Barrier(ctx); err != nil {
			log.Fatalf("node %d: barrier: %v", rt.Node(), err)
		}
		return
	}

	region, err := rt.CreateCollectiveGroup(ctx, members, 42, true)
	if err != nil {
		log.Fatalf("node %d: CreateCollectiveGroup: %v", rt.Node(), err)
	}

	sumReducer := engine.NewReducer[int](rt, plusOp, encodeInt, decodeInt)
	done := make(chan int, 1)
	if rt.Node() == region.Root {
		sumReducer.OnResult(func(_ reduction.Key, result int) { done <- result })
	}

	key := reduction.Key{Group: region.ID, Tag: vtrt.TagID(1), Seq: 1}
	if err := sumReducer.Contribute(ctx, key, 1); err != nil {
		log.Fatalf("node %d: Contribute: %v", rt.Node(), err)
	}

	if rt.Node() == region.Root {
		select {
		case total := <-done:
			fmt.Printf("node %d: odd-node group reduced to %d (want %d)\n", rt.Node(), total, numNodes/2)
		case <-ctx.Done():
			log.Fatalf("node %d: timed out waiting for reduction result", rt.Node())
		}
	}

	if err := xprt.Barrier(ctx); err != nil {
		log.Fatalf("node %d: barrier: %v", rt.Node(), err)
	}
}
