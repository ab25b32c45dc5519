// Package engine wires the Active Messenger, scheduler, epoch manager,
// group manager and collection manager into a single per-node Runtime
// handle. It cannot live in the root vtrt package: messenger, group and
// collection already import vtrt, so a Runtime type referencing all of
// them back from vtrt would be an import cycle. engine is the composition
// root instead, sitting above every other package.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/callback"
	"github.com/nevindra/vtrt/collection"
	"github.com/nevindra/vtrt/diag"
	"github.com/nevindra/vtrt/epoch"
	"github.com/nevindra/vtrt/group"
	"github.com/nevindra/vtrt/messenger"
	"github.com/nevindra/vtrt/scheduler"
	"github.com/nevindra/vtrt/transport"
)

// Runtime is one node's handle to the whole virtual transport layer: every
// runtime operation (send, broadcast, epoch, group, collection, pipe) is
// reached through a method or sub-collaborator hanging off this value.
type Runtime struct {
	self     vtrt.NodeID
	numNodes int
	cfg      vtrt.Config

	xprt  transport.Transport
	sched *scheduler.Scheduler
	ep    *epoch.Manager
	msg   *messenger.Messenger
	grp   *group.Manager
	coll  *collection.Manager
	pipes *callback.Table

	wave     *wavePump
	diagSink diag.Sink

	reducerSlot atomic.Uint32
}

// Option configures Initialize beyond cfg's tunables.
type Option func(*options)

type options struct {
	idleRate    rate.Limit
	msgOpts     []messenger.Option
	disableWave bool
	diagSink    diag.Sink
}

// WithIdleRate overrides the scheduler's idle-poll throttle (default 200Hz).
func WithIdleRate(r rate.Limit) Option {
	return func(o *options) { o.idleRate = r }
}

// WithMessengerOptions passes options straight through to messenger.New,
// e.g. messenger.WithOnSend/WithOnRecv for telemetry instrumentation.
func WithMessengerOptions(opts ...messenger.Option) Option {
	return func(o *options) { o.msgOpts = append(o.msgOpts, opts...) }
}

// WithoutWavePump disables the automatic periodic collective-wave
// Progressable; BeginCollectiveWave must then be driven by hand (tests that
// want single-stepped wave rounds use this).
func WithoutWavePump() Option {
	return func(o *options) { o.disableWave = true }
}

// Initialize builds the full per-node wiring over xprt, the collective
// init every node in the world performs before any node sends. Every node
// must call Initialize with the same cfg.NumNodes.
func Initialize(ctx context.Context, xprt transport.Transport, cfg vtrt.Config, opts ...Option) (*Runtime, error) {
	o := options{idleRate: 200, diagSink: diag.NopSink{}}
	for _, opt := range opts {
		opt(&o)
	}

	self := xprt.Rank()
	numNodes := xprt.Size()
	if numNodes == 0 {
		numNodes = cfg.NumNodes
	}

	sched := scheduler.New(o.idleRate)

	// epoch.Manager needs its ControlTransport at construction; the
	// transport is messenger.NewEpochTransport, which needs the already-built
	// epoch.Manager to register its inbound route. epochProxy breaks the
	// cycle: built empty, handed to epoch.NewManager, then pointed at the
	// real transport once messenger.New has run.
	epCtrl := &epochProxy{}
	ep := epoch.NewManager(self, numNodes, epCtrl)

	msg := messenger.New(self, xprt, sched, ep, cfg, o.msgOpts...)
	epCtrl.real = messenger.NewEpochTransport(msg, ep)

	grpXprt := &groupProxy{}
	grp := group.NewManager(self, grpXprt)
	grpXprt.real = messenger.NewGroupTransport(msg, grp)

	collXprt := &collectionProxy{}
	coll := collection.NewManager(self, collXprt, grp, cfg.ForwardHopBound, cfg.LocationCacheSize)
	collXprt.real = messenger.NewCollectionTransport(msg, coll)

	pipes := callback.NewTable(self)

	rt := &Runtime{
		self:     self,
		numNodes: numNodes,
		cfg:      cfg,
		xprt:     xprt,
		sched:    sched,
		ep:       ep,
		msg:      msg,
		grp:      grp,
		coll:     coll,
		pipes:    pipes,
		diagSink: o.diagSink,
	}

	if !o.disableWave {
		rt.wave = newWavePump(ep, cfg.WavePeriod())
		sched.Register(rt.wave)
	}

	installPipeRoute(rt)

	coll.OnElementMsg(func(el vtrt.ElementProxy, handler vtrt.HandlerID, payload []byte) {
		hctx := &vtrt.HandlerContext{From: rt.self, Element: el}
		if err := vtrt.Dispatch(handler, hctx, payload); err != nil {
			fmt.Printf("engine: element handler dispatch: %v\n", err)
		}
	})

	return rt, nil
}

// Node returns this process's rank.
func (rt *Runtime) Node() vtrt.NodeID { return rt.self }

// NumNodes returns the world size.
func (rt *Runtime) NumNodes() int { return rt.numNodes }

// Messenger returns the Active Messenger for direct send/broadcast use.
func (rt *Runtime) Messenger() *messenger.Messenger { return rt.msg }

// Scheduler returns the cooperative run loop every Progressable polls
// through.
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }

// Epoch returns the termination-detection manager.
func (rt *Runtime) Epoch() *epoch.Manager { return rt.ep }

// Group returns the spanning-tree group manager.
func (rt *Runtime) Group() *group.Manager { return rt.grp }

// Collection returns the virtual collection manager.
func (rt *Runtime) Collection() *collection.Manager { return rt.coll }

// Callbacks returns this node's pipe table.
func (rt *Runtime) Callbacks() *callback.Table { return rt.pipes }

// Sender returns an adapter satisfying callback.Sender, routing every
// Callback.Kind through the right collaborator above.
func (rt *Runtime) Sender() callback.Sender { return &senderAdapter{rt: rt} }

// Finalize closes the transport. Any scheduler run loop driven via
// rt.Scheduler().RunWhile must already have returned.
func (rt *Runtime) Finalize() error {
	sinkErr := rt.diagSink.Close()
	xprtErr := rt.xprt.Close()
	if xprtErr != nil {
		return xprtErr
	}
	return sinkErr
}
