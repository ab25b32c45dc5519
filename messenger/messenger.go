// Package messenger turns the raw transport.Transport byte pipe into the
// message-passing surface the rest of the runtime is built against:
// handler-addressed sends, the eager/rendezvous size split, broadcast fan-out
// along an ad hoc binomial tree, and the self-send bypass. Wire framing uses
// encoding/json over a tagged envelope rather than gob or a binary codec, so
// frames stay inspectable in logs and tests.
package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nevindra/vtrt"
	"github.com/nevindra/vtrt/epoch"
	"github.com/nevindra/vtrt/group"
	"github.com/nevindra/vtrt/scheduler"
	"github.com/nevindra/vtrt/transport"
)

type frameKind uint8

const (
	kindEager frameKind = iota
	kindRendezvousHeader
	kindRendezvousData
	kindBroadcast
)

// wireFrame is the one shape every byte buffer handed to transport.Send
// carries. Env is only meaningful for kindEager/kindRendezvousHeader/
// kindBroadcast; kindRendezvousData only needs DataTag to find its header.
type wireFrame struct {
	Kind          frameKind
	Env           vtrt.Envelope
	Payload       []byte
	DataTag       vtrt.TagID
	TotalLen      int
	BroadcastRoot vtrt.NodeID
}

type rendezvousKey struct {
	from vtrt.NodeID
	tag  vtrt.TagID
}

type rendezvousHeader struct {
	env  vtrt.Envelope
	want int
}

type earlyData struct {
	from vtrt.NodeID
	data []byte
}

// Option configures a Messenger at construction via the functional-options
// pattern.
type Option func(*Messenger)

// WithEagerThreshold overrides the inline-serialize cutoff; defaults to
// cfg.EagerThreshold.
func WithEagerThreshold(n int) Option {
	return func(m *Messenger) { m.eagerThreshold = n }
}

// WithOnSend registers a hook run after every outbound send is framed,
// before it reaches the wire (size 0 for the self-send bypass). Telemetry
// wires its send counters through this.
func WithOnSend(fn func(dest vtrt.NodeID, handler vtrt.HandlerID, size int)) Option {
	return func(m *Messenger) { m.onSend = fn }
}

// WithOnRecv registers a hook run after a handler invocation enqueued from
// an inbound message returns.
func WithOnRecv(fn func(from vtrt.NodeID, handler vtrt.HandlerID, size int)) Option {
	return func(m *Messenger) { m.onRecv = fn }
}

// Messenger is the node-local message-passing engine: it owns the handler
// route table (RegisterRoute), the wire encode/decode for every outbound and
// inbound frame, and the receive-progress loop registered with the
// scheduler.
type Messenger struct {
	self           vtrt.NodeID
	worldSize      int
	xprt           transport.Transport
	sched          *scheduler.Scheduler
	epochMgr       *epoch.Manager
	eagerThreshold int

	codecMu       sync.Mutex
	codecs        map[vtrt.HandlerID]func([]byte) (any, error)
	localHandlers map[vtrt.HandlerID]func(ctx *vtrt.HandlerContext, payload any) error

	rendezvousMu sync.Mutex
	rendezvous   map[rendezvousKey]rendezvousHeader

	dataMu      sync.Mutex
	dataWaiters map[vtrt.TagID]func(from vtrt.NodeID, data []byte)
	earlyData   map[vtrt.TagID]earlyData
	dataSeq     atomic.Int64

	onSend func(dest vtrt.NodeID, handler vtrt.HandlerID, size int)
	onRecv func(from vtrt.NodeID, handler vtrt.HandlerID, size int)
}

// New creates a Messenger over xprt, enqueuing delivered handler
// invocations onto sched and routing epoch accounting through epochMgr.
func New(self vtrt.NodeID, xprt transport.Transport, sched *scheduler.Scheduler, epochMgr *epoch.Manager, cfg vtrt.Config, opts ...Option) *Messenger {
	m := &Messenger{
		self:           self,
		worldSize:      xprt.Size(),
		xprt:           xprt,
		sched:          sched,
		epochMgr:       epochMgr,
		eagerThreshold: cfg.EagerThreshold,
		codecs:         make(map[vtrt.HandlerID]func([]byte) (any, error)),
		localHandlers:  make(map[vtrt.HandlerID]func(ctx *vtrt.HandlerContext, payload any) error),
		rendezvous:     make(map[rendezvousKey]rendezvousHeader),
		dataWaiters:    make(map[vtrt.TagID]func(vtrt.NodeID, []byte)),
		earlyData:      make(map[vtrt.TagID]earlyData),
	}
	for _, o := range opts {
		o(m)
	}
	sched.Register(m)
	return m
}

// sendConfig collects the optional per-send knobs.
type sendConfig struct {
	tag           vtrt.TagID
	epoch         vtrt.EpochID
	includeSender bool
}

// SendOption sets one per-send knob.
type SendOption func(*sendConfig)

// WithTag stamps the envelope's tag.
func WithTag(tag vtrt.TagID) SendOption { return func(c *sendConfig) { c.tag = tag } }

// WithEpoch stamps the envelope's epoch. A handler forwarding its own work
// under the epoch it was invoked with passes WithEpoch(ctx.Epoch) explicitly;
// nothing propagates the active epoch implicitly — the default is always
// vtrt.NoEpoch rather than ambient per-goroutine state.
func WithEpoch(e vtrt.EpochID) SendOption { return func(c *sendConfig) { c.epoch = e } }

// WithoutSender excludes the originating node from a BroadcastMsg's own
// local delivery. Broadcasts deliver to the sender by default.
func WithoutSender() SendOption { return func(c *sendConfig) { c.includeSender = false } }

func (m *Messenger) prepare(dest vtrt.NodeID, handler vtrt.HandlerID, opts []SendOption) (vtrt.Envelope, sendConfig) {
	cfg := sendConfig{tag: vtrt.NoTag, epoch: vtrt.NoEpoch, includeSender: true}
	for _, o := range opts {
		o(&cfg)
	}
	env := vtrt.NewEnvelope(dest, handler)
	if cfg.epoch != vtrt.NoEpoch {
		env.SetEpoch(cfg.epoch)
	}
	if cfg.tag != vtrt.NoTag {
		env.SetTag(cfg.tag)
	}
	m.epochMgr.OnProduce(cfg.epoch, dest)
	return env, cfg
}

// SendMsg sends payload to handler on dest, always over the plain eager
// path regardless of size; callers with potentially large payloads should
// use SendMsgAuto instead.
func (m *Messenger) SendMsg(ctx context.Context, dest vtrt.NodeID, handler vtrt.HandlerID, payload any, opts ...SendOption) error {
	env, _ := m.prepare(dest, handler, opts)
	if dest == m.self {
		m.deliverLocal(env, m.self, payload)
		if m.onSend != nil {
			m.onSend(dest, handler, 0)
		}
		return nil
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if m.onSend != nil {
		m.onSend(dest, handler, len(data))
	}
	return m.sendWire(ctx, dest, wireFrame{Kind: kindEager, Env: env, Payload: data})
}

// SendMsgAuto sends payload to handler on dest, picking the eager or
// rendezvous wire path by the encoded size against the configured eager
// threshold.
func (m *Messenger) SendMsgAuto(ctx context.Context, dest vtrt.NodeID, handler vtrt.HandlerID, payload any, opts ...SendOption) error {
	env, _ := m.prepare(dest, handler, opts)
	if dest == m.self {
		// Self-send bypass: skip the wire and serialization entirely
		// regardless of size.
		m.deliverLocal(env, m.self, payload)
		if m.onSend != nil {
			m.onSend(dest, handler, 0)
		}
		return nil
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if m.onSend != nil {
		m.onSend(dest, handler, len(data))
	}
	if len(data) <= m.eagerThreshold {
		return m.sendWire(ctx, dest, wireFrame{Kind: kindEager, Env: env, Payload: data})
	}
	return m.sendRendezvous(ctx, dest, env, data)
}

// sendRendezvous issues a header frame (data tag + total length) followed
// by one data frame carrying the payload tagged with that data tag. Real
// rendezvous protocols split the payload into bounded fragments the
// receiver pulls on demand; this runtime's transport.Transport.Send already
// delivers a whole byte buffer atomically and reliably, so the split here
// is header-then-whole-body rather than true multi-fragment streaming.
func (m *Messenger) sendRendezvous(ctx context.Context, dest vtrt.NodeID, env vtrt.Envelope, data []byte) error {
	tag := vtrt.TagID(m.dataSeq.Add(1))
	header := wireFrame{Kind: kindRendezvousHeader, Env: env, DataTag: tag, TotalLen: len(data)}
	if err := m.sendWire(ctx, dest, header); err != nil {
		return err
	}
	return m.sendWire(ctx, dest, wireFrame{Kind: kindRendezvousData, DataTag: tag, Payload: data})
}

// SendData sends a raw byte payload to dest tagged with tag, the send-side
// counterpart of RecvDataMsg for a caller-managed rendezvous where a prior
// control message already told dest what tag to expect.
func (m *Messenger) SendData(ctx context.Context, dest vtrt.NodeID, tag vtrt.TagID, data []byte) error {
	return m.sendWire(ctx, dest, wireFrame{Kind: kindRendezvousData, DataTag: tag, Payload: data})
}

// RecvDataMsg registers action to run once a data frame tagged tag arrives
// from any sender. If one already arrived and had no waiter, it runs
// immediately with the buffered bytes.
func (m *Messenger) RecvDataMsg(tag vtrt.TagID, action func(from vtrt.NodeID, data []byte)) {
	m.dataMu.Lock()
	if buf, ok := m.earlyData[tag]; ok {
		delete(m.earlyData, tag)
		m.dataMu.Unlock()
		action(buf.from, buf.data)
		return
	}
	m.dataWaiters[tag] = action
	m.dataMu.Unlock()
}

// BroadcastMsg delivers payload to handler on every node in the transport
// world, routed along a binomial tree rooted at this node. Unlike
// collection.Manager.Broadcast (which fans out over a collection's
// persisted spanning Region), this builds the tree ad hoc each call via
// group.BuildTree over the full world, since a plain BroadcastMsg has no
// group or collection to anchor a persisted tree to.
func (m *Messenger) BroadcastMsg(ctx context.Context, handler vtrt.HandlerID, payload any, opts ...SendOption) error {
	cfg := sendConfig{tag: vtrt.NoTag, epoch: vtrt.NoEpoch, includeSender: true}
	for _, o := range opts {
		o(&cfg)
	}
	env := vtrt.NewEnvelope(m.self, handler)
	if cfg.epoch != vtrt.NoEpoch {
		env.SetEpoch(cfg.epoch)
	}
	if cfg.tag != vtrt.NoTag {
		env.SetTag(cfg.tag)
	}
	// A broadcast produces one message per eventual recipient, not one per
	// hop: the collective 4-counter wave sums produced against consumed
	// across the whole world, and every recipient's deliverLocal consumes
	// exactly once regardless of how many tree hops its copy traveled
	// through. Accounting it as a single OnProduce (as if this were a
	// point-to-point send) leaves consumed permanently ahead of produced
	// for any broadcast reaching more than one node, so quiescence would
	// never be detected. Rooted (Dijkstra-Scholten) epochs track
	// engagement by sender/receiver pair rather than a global sum, so this
	// per-recipient loop is only exercised for collective epochs in
	// practice; see DESIGN.md for the rooted-epoch broadcast caveat.
	for _, n := range m.allNodes() {
		if n == m.self && !cfg.includeSender {
			continue
		}
		m.epochMgr.OnProduce(cfg.epoch, n)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	frame := wireFrame{Kind: kindBroadcast, Env: env, Payload: data, BroadcastRoot: m.self}

	tree := group.BuildTree(m.allNodes(), m.self)
	for _, child := range tree.Children(m.self) {
		if err := m.sendWire(ctx, child, frame); err != nil {
			return err
		}
	}
	if cfg.includeSender {
		m.deliverLocal(env, m.self, payload)
	}
	return nil
}

func (m *Messenger) allNodes() []vtrt.NodeID {
	nodes := make([]vtrt.NodeID, m.worldSize)
	for i := range nodes {
		nodes[i] = vtrt.NodeID(i)
	}
	return nodes
}

func (m *Messenger) sendWire(ctx context.Context, dest vtrt.NodeID, f wireFrame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return &vtrt.SerializationError{TypeName: "messenger.wireFrame", Cause: err}
	}
	return m.xprt.Send(ctx, dest, raw)
}

// deliverLocal enqueues a decoded handler invocation onto the scheduler,
// running the epoch receive-start/consume accounting around it regardless
// of whether the message crossed the wire or took the self-send bypass.
func (m *Messenger) deliverLocal(env vtrt.Envelope, from vtrt.NodeID, payload any) {
	ep, _ := env.GetEpoch()
	tag, _ := env.GetTag()
	priority, _ := env.GetPriority()
	m.epochMgr.OnReceiveStart(context.Background(), ep, from)
	handler := env.Handler
	m.sched.Enqueue(priority, func() {
		hctx := &vtrt.HandlerContext{From: from, Epoch: ep, Tag: tag}
		if err := m.invoke(handler, hctx, payload); err != nil {
			log.Printf("messenger: handler %s: %v", handler, err)
		}
		m.epochMgr.OnConsume(ep, from)
		if m.onRecv != nil {
			m.onRecv(from, handler, 0)
		}
	})
}

// invoke runs handler's registered callable against payload. A handler
// installed via RegisterSystemRoute dispatches entirely locally; anything
// else falls through to vtrt.Dispatch, the process-wide registrar
// application-level RegisterHandler[T] handlers live in.
func (m *Messenger) invoke(handler vtrt.HandlerID, hctx *vtrt.HandlerContext, payload any) error {
	m.codecMu.Lock()
	local, ok := m.localHandlers[handler]
	m.codecMu.Unlock()
	if ok {
		return local(hctx, payload)
	}
	return vtrt.Dispatch(handler, hctx, payload)
}

// dispatchDecoded decodes wire bytes through the route registered for
// env.Handler and hands the result to deliverLocal.
func (m *Messenger) dispatchDecoded(from vtrt.NodeID, env vtrt.Envelope, data []byte) error {
	m.codecMu.Lock()
	decode, ok := m.codecs[env.Handler]
	m.codecMu.Unlock()
	if !ok {
		return &vtrt.FatalConfigError{Reason: fmt.Sprintf("messenger: no route registered for handler %s", env.Handler), Node: m.self, Handler: env.Handler}
	}
	payload, err := decode(data)
	if err != nil {
		return &vtrt.SerializationError{TypeName: env.Handler.String(), Cause: err}
	}
	m.deliverLocal(env, from, payload)
	return nil
}

func (m *Messenger) deliverData(from vtrt.NodeID, tag vtrt.TagID, data []byte) {
	m.dataMu.Lock()
	action, ok := m.dataWaiters[tag]
	if ok {
		delete(m.dataWaiters, tag)
	} else {
		m.earlyData[tag] = earlyData{from: from, data: data}
	}
	m.dataMu.Unlock()
	if ok {
		action(from, data)
	}
}

func (m *Messenger) handleBroadcast(ctx context.Context, from vtrt.NodeID, f wireFrame) error {
	tree := group.BuildTree(m.allNodes(), f.BroadcastRoot)
	for _, child := range tree.Children(m.self) {
		if err := m.sendWire(ctx, child, f); err != nil {
			return err
		}
	}
	return m.dispatchDecoded(from, f.Env, f.Payload)
}

func (m *Messenger) handleInbound(ctx context.Context, from vtrt.NodeID, raw []byte) error {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("messenger: decode frame from %d: %w", from, err)
	}
	switch f.Kind {
	case kindEager:
		return m.dispatchDecoded(from, f.Env, f.Payload)
	case kindRendezvousHeader:
		key := rendezvousKey{from: from, tag: f.DataTag}
		m.rendezvousMu.Lock()
		m.rendezvous[key] = rendezvousHeader{env: f.Env, want: f.TotalLen}
		m.rendezvousMu.Unlock()
		return nil
	case kindRendezvousData:
		key := rendezvousKey{from: from, tag: f.DataTag}
		m.rendezvousMu.Lock()
		hdr, ok := m.rendezvous[key]
		if ok {
			delete(m.rendezvous, key)
		}
		m.rendezvousMu.Unlock()
		if ok {
			return m.dispatchDecoded(from, hdr.env, f.Payload)
		}
		m.deliverData(from, f.DataTag, f.Payload)
		return nil
	case kindBroadcast:
		return m.handleBroadcast(ctx, from, f)
	default:
		return fmt.Errorf("messenger: unknown frame kind %d from %d", f.Kind, from)
	}
}

// Progress drains every frame currently queued on the transport, decoding
// and dispatching each. It implements scheduler.Progressable.
func (m *Messenger) Progress(ctx context.Context) (bool, error) {
	did := false
	for {
		from, raw, ok := m.xprt.TryRecv()
		if !ok {
			break
		}
		did = true
		if err := m.handleInbound(ctx, from, raw); err != nil {
			log.Printf("messenger: %v", err)
		}
	}
	return did, nil
}

// logRouteErr reports a control-frame delivery failure from one of the
// route_*.go adapters; these run inside a scheduler-enqueued closure with no
// caller left to return an error to.
func logRouteErr(route string, err error) {
	log.Printf("messenger: %s route: %v", route, err)
}

// encodePayload serializes payload via its Codec if it implements one,
// falling back to encoding/json: Codec is an opt-in fast path, JSON is the
// default every type gets for free.
func encodePayload(payload any) ([]byte, error) {
	if c, ok := payload.(vtrt.Codec); ok {
		data, err := c.Encode()
		if err != nil {
			return nil, &vtrt.SerializationError{TypeName: fmt.Sprintf("%T", payload), Cause: err}
		}
		return data, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &vtrt.SerializationError{TypeName: fmt.Sprintf("%T", payload), Cause: err}
	}
	return data, nil
}
