package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"github.com/kaoskorobase/banga/pkg/alloc"
	"github.com/kaoskorobase/banga/pkg/graph"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// idChange records one allocator mutation so a request can be rolled back.
type idChange struct {
	pool  *alloc.Allocator
	id    alloc.ID
	freed bool
}

// Request builds one time-tagged bundle of engine commands. Every operation
// appends exactly one message, in call order, except AudioBus and
// FreeAudioBus which only touch the bus pool.
//
// A Request obtained from Engine.Begin holds the engine's id pools until
// Send or Discard is called; exactly one of them must be called.
type Request struct {
	engine  *Engine
	nodes   *alloc.Allocator
	buses   *alloc.Allocator
	timetag uint64

	messages []*osc.Message
	changes  []idChange
	done     bool

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	session string
}

// At returns a request at time t that allocates from nodes and buses. It is
// not bound to an engine: it can be encoded with MarshalBinary but not sent.
func At(t Time, nodes, buses *alloc.Allocator) *Request {
	return &Request{
		nodes:   nodes,
		buses:   buses,
		timetag: TimeToTimetag(t),
		logger:  telemetry.NewNopLogger(),
		metrics: telemetry.NewNopMetrics(),
		events:  telemetry.NewNopEventPublisher(),
	}
}

// Group creates a group at p.
func (r *Request) Group(p graph.Placement) (graph.Group, error) {
	if err := r.check("group"); err != nil {
		return graph.Group{}, err
	}
	id, err := r.allocNode("group")
	if err != nil {
		return graph.Group{}, err
	}
	r.add(AddressGroupNew, int32(id), int32(p.Target()), int32(p.Relation()))
	return graph.GroupFromID(id), nil
}

// Synth creates an instance of the synth definition def at p with the
// given initial control values. Synth options are array-valued, which the
// wire encoder cannot represent, so a non-empty options slice is rejected
// before any id is allocated.
func (r *Request) Synth(def string, p graph.Placement, controls []float32, options []interface{}) (graph.Synth, error) {
	if err := r.check("synth"); err != nil {
		return graph.Synth{}, err
	}
	if len(options) > 0 {
		err := NewUnsupportedError("synth options are array-valued and cannot be encoded").
			WithOperation("synth").
			WithDetail("synth", def).
			WithDetail("options", len(options))
		r.metrics.RecordError(string(err.Class), err.Code)
		return graph.Synth{}, err
	}
	id, err := r.allocNode("synth")
	if err != nil {
		return graph.Synth{}, err
	}
	args := make([]interface{}, 0, 4+len(controls))
	args = append(args, def, int32(id), int32(p.Target()), int32(p.Relation()))
	for _, c := range controls {
		args = append(args, c)
	}
	r.add(AddressSynthNew, args...)
	return graph.SynthFromID(id), nil
}

// Activate starts a synth's processing.
func (r *Request) Activate(s graph.Synth) error {
	if err := r.check("activate"); err != nil {
		return err
	}
	r.add(AddressSynthActivate, int32(s.NodeID()))
	return nil
}

// MapInput connects input port index of s to bus.
func (r *Request) MapInput(s graph.Synth, index int, bus graph.AudioBus, flags graph.BusMappingFlags) error {
	return r.mapPort("map_input", AddressSynthMapInput, s, index, bus, flags)
}

// MapOutput connects output port index of s to bus.
func (r *Request) MapOutput(s graph.Synth, index int, bus graph.AudioBus, flags graph.BusMappingFlags) error {
	return r.mapPort("map_output", AddressSynthMapOutput, s, index, bus, flags)
}

func (r *Request) mapPort(op, address string, s graph.Synth, index int, bus graph.AudioBus, flags graph.BusMappingFlags) error {
	if err := r.check(op); err != nil {
		return err
	}
	r.add(address, int32(s.NodeID()), int32(index), int32(bus.BusID()), int32(flags))
	return nil
}

// Set sets control index of n to value.
func (r *Request) Set(n graph.Node, index int, value float32) error {
	if err := r.check("set"); err != nil {
		return err
	}
	r.add(AddressNodeSet, int32(n.NodeID()), int32(index), value)
	return nil
}

// Free removes n from the graph and returns its id to the pool.
//
// The id is reclaimed as soon as the message is appended, but the engine
// only retires the node when the bundle reaches it. A later request may
// therefore be handed the same id while the engine still runs the old node.
// Callers must not reuse a freed id until at least one full bundle round
// trip has completed.
//
// Freeing an id outside the pool, or the root group, is reported as misuse
// and does not reclaim anything; the message is still sent.
func (r *Request) Free(n graph.Node) error {
	if err := r.check("free"); err != nil {
		return err
	}
	id := n.NodeID()
	r.add(AddressNodeFree, int32(id))
	if id == graph.RootGroup().NodeID() {
		r.misuse(PoolNodes, alloc.ID(id), "root group freed")
		return nil
	}
	r.freeID(r.nodes, PoolNodes, alloc.ID(id))
	return nil
}

// FreeAll removes every child of g. The engine frees the children
// recursively; their ids stay allocated here because the request does not
// know them. Use FreeAllWith to reclaim them.
func (r *Request) FreeAll(g graph.Group) error {
	if err := r.check("free_all"); err != nil {
		return err
	}
	r.add(AddressGroupFreeAll, int32(g.NodeID()))
	return nil
}

// FreeAllWith sends the same message as FreeAll and reclaims the ids of
// children, which must be the complete set of g's descendants. The engine
// frees neither g nor the root group, so listing either is reported as
// misuse and its id stays allocated.
func (r *Request) FreeAllWith(g graph.Group, children ...graph.Node) error {
	if err := r.FreeAll(g); err != nil {
		return err
	}
	for _, c := range children {
		id := c.NodeID()
		switch id {
		case graph.RootGroup().NodeID():
			r.misuse(PoolNodes, alloc.ID(id), "root group listed as a child")
		case g.NodeID():
			r.misuse(PoolNodes, alloc.ID(id), fmt.Sprintf("group %d listed as its own child", id))
		default:
			r.freeID(r.nodes, PoolNodes, alloc.ID(id))
		}
	}
	return nil
}

// WhenDone sets what the engine does when s finishes.
func (r *Request) WhenDone(s graph.Synth, flags graph.NodeDoneFlags) error {
	if err := r.check("when_done"); err != nil {
		return err
	}
	r.add(AddressSynthDoneFlags, int32(s.NodeID()), int32(flags))
	return nil
}

// AudioBus allocates an audio bus id. No message is emitted.
func (r *Request) AudioBus() (graph.AudioBus, error) {
	if err := r.check("audio_bus"); err != nil {
		return graph.AudioBus{}, err
	}
	id, err := r.alloc(r.buses, PoolBuses, "audio_bus")
	if err != nil {
		return graph.AudioBus{}, err
	}
	return graph.AudioBusFromID(graph.BusID(id)), nil
}

// FreeAudioBus returns b to the bus pool. No message is emitted.
func (r *Request) FreeAudioBus(b graph.AudioBus) error {
	if err := r.check("free_audio_bus"); err != nil {
		return err
	}
	r.freeID(r.buses, PoolBuses, alloc.ID(b.BusID()))
	return nil
}

// Timetag returns the bundle's 64-bit time tag.
func (r *Request) Timetag() uint64 {
	return r.timetag
}

// Len returns the number of messages.
func (r *Request) Len() int {
	return len(r.messages)
}

// Messages returns the messages in send order.
func (r *Request) Messages() []*osc.Message {
	return append([]*osc.Message(nil), r.messages...)
}

var bundleTag = []byte("#bundle\x00")

// MarshalBinary encodes the bundle: the "#bundle" tag, the 64-bit time tag
// in network order, then every message prefixed with its int32 size. The
// time tag is written as is so its 32-bit fraction survives on the wire.
func (r *Request) MarshalBinary() ([]byte, error) {
	var (
		buf  = bytes.NewBuffer(make([]byte, 0, 16+32*len(r.messages)))
		word [8]byte
	)
	buf.Write(bundleTag)
	binary.BigEndian.PutUint64(word[:], r.timetag)
	buf.Write(word[:])

	for i, m := range r.messages {
		data, err := m.MarshalBinary()
		if err != nil {
			return nil, (&EngineError{
				Class:     ErrorClassUnsupported,
				Message:   "failed to encode bundle",
				Code:      ErrCodeEncoding,
				Operation: "encode",
				Err:       err,
			}).WithDetail("message", i).WithDetail("address", m.Address)
		}
		binary.BigEndian.PutUint32(word[:4], uint32(len(data)))
		buf.Write(word[:4])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// Send encodes the bundle and hands it to the engine. On failure every id
// change made by the request is rolled back. The request is finished
// afterwards, whatever the outcome.
func (r *Request) Send(ctx context.Context) (err error) {
	if r.engine == nil {
		return NewMisuseError("request is not bound to an engine").WithOperation("send")
	}
	if err := r.check("send"); err != nil {
		return err
	}
	defer r.finish()

	info := telemetry.BundleInfo{
		Sequence:  r.engine.seq.Add(1),
		Timetag:   r.timetag,
		Messages:  len(r.messages),
		Addresses: r.addresses(),
	}

	_, span := r.engine.tracer.StartBundleSpan(ctx, r.timetag, len(r.messages))
	defer func() { telemetry.EndSpan(span, err) }()

	data, err := r.MarshalBinary()
	if err == nil {
		info.Bytes = len(data)
		span.SetAttributes(telemetry.AttrBytes.Int(len(data)))
		err = r.engine.Send(data)
	}
	if err != nil {
		r.rollback()
		_ = r.events.PublishBundleFailed(r.session, info, err.Error())
		r.logger.WithError(err).WithField("sequence", info.Sequence).Error("bundle send failed")
		return err
	}

	r.metrics.RecordMessages(info.Addresses)
	_ = r.events.PublishBundleSent(r.session, info)
	r.logger.WithFields(map[string]interface{}{
		"sequence": info.Sequence,
		"messages": info.Messages,
		"bytes":    info.Bytes,
	}).Debug("bundle sent")
	return nil
}

// Discard drops the request and rolls back its id changes. Calling Discard
// on a finished request has no effect.
func (r *Request) Discard() {
	if r.done {
		return
	}
	r.rollback()
	r.metrics.RecordDiscard()
	r.finish()
}

func (r *Request) check(op string) error {
	if r.done {
		return NewClosedError("request already sent or discarded").WithOperation(op)
	}
	return nil
}

func (r *Request) add(address string, args ...interface{}) {
	r.messages = append(r.messages, osc.NewMessage(address, args...))
}

func (r *Request) addresses() []string {
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Address
	}
	return out
}

func (r *Request) allocNode(op string) (graph.NodeID, error) {
	id, err := r.alloc(r.nodes, PoolNodes, op)
	return graph.NodeID(id), err
}

func (r *Request) alloc(pool *alloc.Allocator, name, op string) (alloc.ID, error) {
	id, err := pool.Alloc()
	if err != nil {
		e := NewExhaustedError(name, err).WithOperation(op).WithDetail("capacity", pool.Cap())
		r.metrics.RecordError(string(e.Class), e.Code)
		_ = r.events.PublishIDsExhausted(r.session, name, pool.Cap())
		r.logger.WithPool(name).Warn("identifier pool exhausted")
		return 0, e
	}
	r.changes = append(r.changes, idChange{pool: pool, id: id})
	return id, nil
}

func (r *Request) freeID(pool *alloc.Allocator, name string, id alloc.ID) {
	live := pool.InUse(id)
	if !pool.Free(id) {
		r.misuse(name, id, fmt.Sprintf("%s id %d outside pool of %d", name, id, pool.Cap()))
		return
	}
	if live {
		r.changes = append(r.changes, idChange{pool: pool, id: id, freed: true})
	}
}

func (r *Request) misuse(pool string, id alloc.ID, msg string) {
	e := NewMisuseError(msg).WithDetail("id", int64(id))
	r.metrics.RecordMisuse(pool)
	r.metrics.RecordError(string(e.Class), e.Code)
	_ = r.events.PublishIDMisuse(r.session, pool, int64(id))
	r.logger.WithPool(pool).WithFields(map[string]interface{}{
		"id":   int64(id),
		"code": e.Code,
	}).Warn(msg)
}

// rollback undoes id changes in reverse order.
func (r *Request) rollback() {
	for i := len(r.changes) - 1; i >= 0; i-- {
		c := r.changes[i]
		if c.freed {
			_ = c.pool.Reserve(c.id)
		} else {
			c.pool.Free(c.id)
		}
	}
	r.changes = nil
}

func (r *Request) finish() {
	r.done = true
	r.changes = nil
	if r.engine != nil {
		r.engine.release()
	}
}
