// Package engine is the composition root: call Initialize once per node to
// get a Runtime wired over a transport.Transport, then drive it with
// Scheduler().RunWhile or a RunInEpoch bracket.
//
//	xprt := transport.NewLocalWorld(4)[rank]
//	rt, err := engine.Initialize(ctx, xprt, vtrt.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Finalize()
//
//	h := vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, msg Ping) {
//		fmt.Printf("node %d got ping from %d\n", rt.Node(), ctx.From)
//	})
//
//	err = rt.RunInEpoch(ctx, func(epoch vtrt.EpochID) error {
//		return rt.Messenger().BroadcastMsg(ctx, h, Ping{}, messenger.WithEpoch(epoch))
//	})
package engine
