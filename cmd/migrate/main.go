// Command migrate builds a 16-element bulk collection, verifies each
// element's constructed value with one broadcast, migrates every element
// to its successor node with a second broadcast, then verifies the same
// values survived the move with a third: each element's synthetic test
// value is recomputed from its index and must match before and after the
// migration round-trip.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/collection"
	"github.com/nevindra/vtrt/engine"
	"github.com/nevindra/vtrt/transport"
)

const (
	numNodes = 4
	numElms  = 16
)

// runtimes holds every simulated node's Runtime, indexed by rank, filled in
// once at startup before any broadcast fires. The two handlers below run
// under the global registrar (vtrt.Dispatch has no per-Messenger-instance
// routing the way messenger.RegisterSystemRoute does for plain sends, see
// DESIGN.md), so they recover "which node is this dispatch running on" from
// engine's wiring (engine.Initialize sets HandlerContext.From to the local
// node's own rank for collection dispatch) and look the right Runtime up
// here rather than closing over one directly.
var runtimes [numNodes]*engine.Runtime

var mismatches atomic.Int64

func expected(idx vtrt.Index) float64 { return float64(idx.X()) * 29.3 }

func encodeF64(v float64) []byte {
	buf := make([]byte, 8)
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	return buf
}

func decodeF64(buf []byte) float64 {
	var bits uint64
	for i := 0; i < 8 && i < len(buf); i++ {
		bits |= uint64(buf[i]) << (8 * i)
	}
	return math.Float64frombits(bits)
}

var verifyWork = vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, _ []byte) {
	rt := runtimes[ctx.From]
	data, ok := rt.Collection().GetElementData(ctx.Element)
	if !ok {
		mismatches.Add(1)
		fmt.Printf("node %d: element %s missing or not live\n", ctx.From, ctx.Element)
		return
	}
	got := decodeF64(data)
	want := expected(ctx.Element.Idx)
	if math.Abs(got-want) > 1e-9 {
		mismatches.Add(1)
		fmt.Printf("node %d: element %s test_val=%v want %v\n", ctx.From, ctx.Element, got, want)
	}
})

var migrateToNext = vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, _ []byte) {
	rt := runtimes[ctx.From]
	next := vtrt.NodeID((int(ctx.From) + 1) % numNodes)
	if next == ctx.From {
		return
	}
	if err := rt.Collection().Migrate(context.Background(), ctx.Element.Collection, ctx.Element.Idx, next); err != nil {
		log.Printf("node %d: migrate %s: %v", ctx.From, ctx.Element, err)
	}
})

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
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
	runtimes[rt.Node()] = rt

	pumpCtx, stopPump := context.WithCancel(ctx)
	go rt.Scheduler().RunWhile(pumpCtx, func() bool { return pumpCtx.Err() == nil })
	defer stopPump()

	if err := xprt.Barrier(ctx); err != nil {
		log.Fatalf("node %d: barrier before construction: %v", rt.Node(), err)
	}

	extent := vtrt.Index1D(numElms)
	c, err := rt.Collection().CreateBulk(ctx, extent, collection.RoundRobin{}, numNodes, func(idx vtrt.Index) ([]byte, error) {
		return encodeF64(expected(idx)), nil
	})
	if err != nil {
		log.Fatalf("node %d: CreateBulk: %v", rt.Node(), err)
	}

	settle := func() {
		time.Sleep(150 * time.Millisecond)
		if err := xprt.Barrier(ctx); err != nil {
			log.Fatalf("node %d: barrier: %v", rt.Node(), err)
		}
	}

	runPhase := func(label string, handler vtrt.HandlerID) {
		if rt.Node() == 0 {
			if err := rt.RunInEpoch(ctx, func(vtrt.EpochID) error {
				return rt.Collection().Broadcast(ctx, c, handler, nil)
			}); err != nil {
				log.Fatalf("node 0: phase %s: %v", label, err)
			}
		}
		settle()
	}

	runPhase("verify-before-migrate", verifyWork)
	runPhase("migrate-to-next", migrateToNext)
	runPhase("verify-after-migrate", verifyWork)

	if rt.Node() == 0 {
		if n := mismatches.Load(); n == 0 {
			fmt.Println("migrate: all elements preserved test_val across migration")
		} else {
			fmt.Printf("migrate: %d elements failed verification\n", n)
		}
	}
}
