package score

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/graph"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// Engine is the part of *engine.Engine the Player needs.
type Engine interface {
	Begin(t engine.Time) (*engine.Request, error)
}

type binding struct {
	kind symbol
	node graph.NodeID
	bus  graph.BusID
	// order of creation, used to free in reverse
	seq int
}

func (b binding) asNode() graph.Node {
	if b.kind == symGroup {
		return graph.GroupFromID(b.node)
	}
	return graph.SynthFromID(b.node)
}

// Player sends scores to an engine, one bundle per cue. Names bound by a
// score stay bound across Play calls until the node or bus is freed or
// Reset is called.
type Player struct {
	engine    Engine
	lookahead time.Duration
	realtime  bool

	mu       sync.Mutex
	bindings map[string]binding
	seq      int

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithLogger sets the player's logger.
func WithLogger(l *telemetry.Logger) PlayerOption {
	return func(p *Player) {
		if l != nil {
			p.logger = l.NewComponentLogger("score")
		}
	}
}

// WithTelemetry wires logger, metrics, tracer and events from t.
func WithTelemetry(t *telemetry.Telemetry) PlayerOption {
	return func(p *Player) {
		if t == nil {
			return
		}
		WithLogger(t.Logger)(p)
		if t.Metrics != nil {
			p.metrics = t.Metrics
		}
		if t.Tracer != nil {
			p.tracer = t.Tracer
		}
		if t.Events != nil {
			p.events = t.Events
		}
	}
}

// WithRealtime paces sending: each cue is sent lookahead before its time,
// measured from the start of Play. Without it every cue is sent at once.
func WithRealtime(lookahead time.Duration) PlayerOption {
	return func(p *Player) {
		p.realtime = true
		p.lookahead = lookahead
	}
}

// NewPlayer returns a player sending to e.
func NewPlayer(e Engine, opts ...PlayerOption) *Player {
	p := &Player{
		engine:   e,
		bindings: make(map[string]binding),
		logger:   telemetry.NewNopLogger(),
		metrics:  telemetry.NewNopMetrics(),
		tracer:   telemetry.NewNopTracer(),
		events:   telemetry.NewNopEventPublisher(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result summarizes a Play call.
type Result struct {
	Cues     int
	Messages int
}

// Play sends every cue of s with time tag start+cue.At. A cue whose
// operations fail is discarded, its ids are returned and Play stops; cues
// sent before it stay sent.
func (p *Player) Play(ctx context.Context, s *Score, start engine.Time) (res Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := p.tracer.StartScoreSpan(ctx, s.Name, len(s.Cues))
	defer func() { telemetry.EndSpan(span, err) }()

	_ = p.events.PublishScoreLoaded(s.Name, len(s.Cues))
	logger := p.logger.WithField("score", s.Name)
	if id := telemetry.TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}

	wallStart := time.Now()
	for i, cue := range s.Cues {
		if p.realtime {
			due := wallStart.Add(time.Duration(cue.At*float64(time.Second)) - p.lookahead)
			if err := sleepUntil(ctx, due); err != nil {
				return res, err
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}

		n, err := p.playCue(ctx, s.Name, i, cue, start)
		if err != nil {
			logger.WithCue(i, cue.At).WithError(err).Error("Cue failed")
			return res, err
		}
		res.Cues++
		res.Messages += n
		p.metrics.RecordCue()
		telemetry.AddEvent(span, "cue.sent", telemetry.AttrCue.Int(i), telemetry.AttrMessages.Int(n))
		logger.WithCue(i, cue.At).Debugf("Cue sent with %d messages", n)
	}

	logger.Infof("Score played: %d cues, %d messages", res.Cues, res.Messages)
	return res, nil
}

func (p *Player) playCue(ctx context.Context, name string, index int, cue Cue, start engine.Time) (int, error) {
	req, err := p.engine.Begin(start + engine.Time(cue.At))
	if err != nil {
		return 0, fmt.Errorf("cue %d: %w", index, err)
	}

	next := maps.Clone(p.bindings)
	seq := p.seq
	for oi, op := range cue.Ops {
		if err := p.apply(req, next, &seq, op); err != nil {
			req.Discard()
			return 0, &Error{Score: name, Cue: index, Op: oi, Msg: err.Error(), Err: err}
		}
	}

	n := req.Len()
	if err := req.Send(ctx); err != nil {
		return 0, fmt.Errorf("cue %d: %w", index, err)
	}
	p.bindings = next
	p.seq = seq
	return n, nil
}

func (p *Player) apply(req *engine.Request, names map[string]binding, seq *int, op Op) error {
	bind := func(name string, b binding) error {
		if _, ok := names[name]; ok && name != "" {
			return fmt.Errorf("name %q already bound", name)
		}
		*seq++
		b.seq = *seq
		if name == "" {
			name = fmt.Sprintf("$%d", *seq)
		}
		names[name] = b
		return nil
	}

	switch op.Kind {
	case OpGroup:
		pl, err := placementOf(names, op)
		if err != nil {
			return err
		}
		g, err := req.Group(pl)
		if err != nil {
			return err
		}
		return bind(op.Name, binding{kind: symGroup, node: g.NodeID()})

	case OpSynth:
		pl, err := placementOf(names, op)
		if err != nil {
			return err
		}
		s, err := req.Synth(op.Def, pl, op.Controls, nil)
		if err != nil {
			return err
		}
		return bind(op.Name, binding{kind: symSynth, node: s.NodeID()})

	case OpActivate:
		s, err := synthOf(names, op.Node)
		if err != nil {
			return err
		}
		return req.Activate(s)

	case OpMapInput, OpMapOutput:
		s, err := synthOf(names, op.Node)
		if err != nil {
			return err
		}
		b, err := resolve(names, op.Bus, symBus)
		if err != nil {
			return err
		}
		flags, err := graph.ParseBusMappingFlags(op.Flags)
		if err != nil {
			return err
		}
		bus := graph.AudioBusFromID(b.bus)
		if op.Kind == OpMapInput {
			return req.MapInput(s, op.Index, bus, flags)
		}
		return req.MapOutput(s, op.Index, bus, flags)

	case OpSet:
		n, err := nodeOf(names, op.Node, symGroup, symSynth)
		if err != nil {
			return err
		}
		return req.Set(n, op.Index, op.Value)

	case OpFree:
		b, err := resolve(names, op.Node, symGroup, symSynth)
		if err != nil {
			return err
		}
		if err := req.Free(b.asNode()); err != nil {
			return err
		}
		unbind(names, op.Node)
		return nil

	case OpFreeAll:
		g, err := resolve(names, op.Node, symGroup)
		if err != nil {
			return err
		}
		children := make([]graph.Node, 0, len(op.Children))
		for _, c := range op.Children {
			b, err := resolve(names, c, symGroup, symSynth)
			if err != nil {
				return err
			}
			children = append(children, b.asNode())
		}
		if err := req.FreeAllWith(graph.GroupFromID(g.node), children...); err != nil {
			return err
		}
		for _, c := range op.Children {
			unbind(names, c)
		}
		return nil

	case OpWhenDone:
		s, err := synthOf(names, op.Node)
		if err != nil {
			return err
		}
		flags, err := graph.ParseNodeDoneFlags(op.Flags)
		if err != nil {
			return err
		}
		return req.WhenDone(s, flags)

	case OpBus:
		b, err := req.AudioBus()
		if err != nil {
			return err
		}
		return bind(op.Name, binding{kind: symBus, bus: b.BusID()})

	case OpFreeBus:
		b, err := resolve(names, op.Bus, symBus)
		if err != nil {
			return err
		}
		if err := req.FreeAudioBus(graph.AudioBusFromID(b.bus)); err != nil {
			return err
		}
		unbind(names, op.Bus)
		return nil
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

// Reset frees every node and bus the player still has bound in one bundle
// at time t: a free_all of the root group that reclaims all bound nodes,
// followed by the bound buses.
func (p *Player) Reset(ctx context.Context, t engine.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.bindings) == 0 {
		return nil
	}

	live := make([]binding, 0, len(p.bindings))
	for _, b := range p.bindings {
		live = append(live, b)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq > live[j].seq })

	req, err := p.engine.Begin(t)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	var nodes []graph.Node
	for _, b := range live {
		if b.kind != symBus {
			nodes = append(nodes, b.asNode())
		}
	}
	if len(nodes) > 0 {
		if err := req.FreeAllWith(graph.RootGroup(), nodes...); err != nil {
			req.Discard()
			return fmt.Errorf("reset: %w", err)
		}
	}
	for _, b := range live {
		if b.kind == symBus {
			if err := req.FreeAudioBus(graph.AudioBusFromID(b.bus)); err != nil {
				req.Discard()
				return fmt.Errorf("reset: %w", err)
			}
		}
	}

	if err := req.Send(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	p.bindings = make(map[string]binding)
	p.logger.Infof("Reset freed %d nodes and %d buses", len(nodes), len(live)-len(nodes))
	return nil
}

// Bound returns the id bound to name, and whether it is bound.
func (p *Player) Bound(name string) (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bindings[name]
	if !ok {
		return 0, false
	}
	if b.kind == symBus {
		return int32(b.bus), true
	}
	return int32(b.node), true
}

func resolve(names map[string]binding, ref string, want ...symbol) (binding, error) {
	name, err := ParseRef(ref)
	if err != nil {
		return binding{}, err
	}
	if name == "" {
		for _, w := range want {
			if w == symGroup {
				return binding{kind: symGroup, node: graph.RootGroup().NodeID()}, nil
			}
		}
		return binding{}, fmt.Errorf("root group not allowed here")
	}
	b, ok := names[name]
	if !ok {
		return binding{}, fmt.Errorf("unbound reference %q", ref)
	}
	for _, w := range want {
		if b.kind == w {
			return b, nil
		}
	}
	return binding{}, fmt.Errorf("%q is a %s", ref, b.kind)
}

func nodeOf(names map[string]binding, ref string, want ...symbol) (graph.Node, error) {
	b, err := resolve(names, ref, want...)
	if err != nil {
		return nil, err
	}
	return b.asNode(), nil
}

func synthOf(names map[string]binding, ref string) (graph.Synth, error) {
	b, err := resolve(names, ref, symSynth)
	if err != nil {
		return graph.Synth{}, err
	}
	return graph.SynthFromID(b.node), nil
}

func placementOf(names map[string]binding, op Op) (graph.Placement, error) {
	rel, err := parseRelation(op.Relation)
	if err != nil {
		return graph.Placement{}, err
	}
	switch rel {
	case graph.HeadOfGroup, graph.TailOfGroup:
		b, err := resolve(names, op.Target, symGroup)
		if err != nil {
			return graph.Placement{}, err
		}
		g := graph.GroupFromID(b.node)
		if rel == graph.HeadOfGroup {
			return graph.HeadOf(g), nil
		}
		return graph.TailOf(g), nil
	default:
		n, err := nodeOf(names, op.Target, symGroup, symSynth)
		if err != nil {
			return graph.Placement{}, err
		}
		if rel == graph.BeforeNode {
			return graph.Before(n), nil
		}
		return graph.After(n), nil
	}
}

func unbind(names map[string]binding, ref string) {
	if name, err := ParseRef(ref); err == nil {
		delete(names, name)
	}
}

func sleepUntil(ctx context.Context, due time.Time) error {
	d := time.Until(due)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
