// Package vtrt is an asynchronous task-and-messaging runtime for a
// distributed-memory virtual transport: a fixed set of ranked nodes
// connected by an ordered, reliable point-to-point transport, on top of
// which the package provides a single programming abstraction —
// handler-tagged active messages sent to addressable entities — composed
// under epoch-based termination detection.
//
// # Quick start
//
// A program registers its handlers at init time, builds a Runtime over a
// transport (package engine, which composes every package below), and
// drives the scheduler:
//
//	var sayHello = vtrt.RegisterHandler(func(ctx *vtrt.HandlerContext, from vtrt.NodeID) {
//		fmt.Printf("hello from node %d\n", from)
//	})
//
//	rt, _ := engine.Initialize(ctx, transport.NewLocalWorld(n)[rank], vtrt.DefaultConfig())
//	defer rt.Finalize()
//	if rt.Node() == 0 {
//		rt.Messenger().BroadcastMsg(ctx, sayHello, rt.Node())
//	}
//	rt.Scheduler().RunWhile(ctx, func() bool { ok, _ := rt.Scheduler().IsIdle(ctx); return !ok })
//
// # Core packages
//
// The root package defines the identifiers, envelope, handler registry, and
// message ownership that every other package builds on. engine is the
// composition root: it cannot live here, since messenger/group/collection
// already import this package and a Runtime referencing them back from vtrt
// would be an import cycle.
//
//   - [transport] — the consumed point-to-point/barrier contract
//   - [messenger] — send/broadcast dispatch, eager vs. rendezvous delivery
//   - [scheduler] — the cooperative single-threaded event loop
//   - [epoch] — rooted (Dijkstra-Scholten) and collective (4-counter wave)
//     termination detection
//   - [group] — process-subset construction and spanning trees
//   - [reduction] — tree-based collective reductions
//   - [location] — the distributed entity-to-node directory
//   - [collection] — migratable indexed virtual collections
//   - [callback] — first-class serializable continuations
//   - [engine] — the single runtime handle wiring all of the above together
//   - [telemetry] — OTEL instrumentation of the above
//   - [diag] — fatal-diagnostic persistence backends
//
// See the cmd/ directory for complete runnable examples (hello_world, ring,
// collection_reduce, staged_insert, migrate, group_reduce).
package vtrt
