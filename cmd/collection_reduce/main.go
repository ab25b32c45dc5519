// Command collection_reduce bulk-constructs a 16-element virtual
// collection spread block-partitioned across 4 nodes, then runs a tree
// reduction summing every element's index (0+1+...+15 = 120), observed
// once on the collection's root.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/collection"
	"github.com/nevindra/vtrt/engine"
	"github.com/nevindra/vtrt/reduction"
	"github.com/nevindra/vtrt/transport"
)

const (
	numNodes = 4
	numElems = 16
)

func encodeInt(v int) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf, nil
}

func decodeInt(data []byte) (int, error) {
	return int(binary.LittleEndian.Uint64(data)), nil
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

	// CreateBulk blocks non-electing members on a collective round-trip,
	// so the scheduler needs an independent pump driving it concurrently.
	pumpCtx, stopPump := context.WithCancel(ctx)
	go rt.Scheduler().RunWhile(pumpCtx, func() bool { return pumpCtx.Err() == nil })
	defer stopPump()

	sumReducer := engine.NewReducer[int](rt, func(a, b int) int { return a + b }, encodeInt, decodeInt)
	sumReducer.OnResult(func(key reduction.Key, result int) {
		fmt.Printf("node %d: sum of indices 0..%d = %d\n", rt.Node(), numElems-1, result)
		cancel()
	})

	extent := vtrt.Index1D(numElems)
	c, err := rt.Collection().CreateBulk(ctx, extent, collection.BlockPartition{}, numNodes, func(idx vtrt.Index) ([]byte, error) {
		return encodeInt(int(idx.X()))
	})
	if err != nil {
		log.Fatalf("node %d: CreateBulk: %v", rt.Node(), err)
	}

	key := reduction.Key{Tag: vtrt.TagID(1), Seq: 1}
	if err := collection.Reduce[int](ctx, rt.Collection(), c, sumReducer, key, func(a, b int) int { return a + b }, 0,
		func(idx vtrt.Index, data []byte) int {
			v, _ := decodeInt(data)
			return v
		}); err != nil {
		log.Fatalf("node %d: Reduce: %v", rt.Node(), err)
	}

	<-ctx.Done()
}
