package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kaoskorobase/banga/pkg/alloc"
	"github.com/kaoskorobase/banga/pkg/graph"
	"github.com/kaoskorobase/banga/pkg/native"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// Pool names used in errors, logs and metrics.
const (
	PoolNodes = "node"
	PoolBuses = "audio_bus"
)

// ErrBuilderBusy is returned by TryBegin while another request is open.
var ErrBuilderBusy = errors.New("engine: another request is being built")

// Engine owns a running native engine and the identifier pools for its
// graph. Requests are built one at a time; sending is safe from any
// non-real-time goroutine.
type Engine struct {
	cfg     Config
	handle  native.Handle
	session string
	seq     atomic.Int64

	// life is read-held by Send and write-held by Close.
	life   sync.RWMutex
	closed atomic.Bool

	// builder is held by the single open Request.
	builder sync.Mutex
	nodes   *alloc.Allocator
	buses   *alloc.Allocator

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// Open validates cfg, starts the audio driver and the engine through lib and
// sizes the id pools from cfg. The native option records are released before
// Open returns, on success and on failure.
func Open(ctx context.Context, lib native.Library, cfg Config, opts ...Option) (e *Engine, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	_, span := o.tracer.StartEngineSpan(ctx, "engine.open",
		attribute.Int("engine.sample_rate", cfg.SampleRate),
		attribute.Int("engine.block_size", cfg.BlockSize),
		attribute.Int("engine.max_nodes", cfg.MaxNumNodes),
		attribute.Int("engine.max_buses", cfg.MaxNumAudioBuses),
	)
	defer func() {
		telemetry.EndSpan(span, err)
		if err != nil {
			o.metrics.RecordError(string(ClassOf(err)), codeOf(err))
			o.logger.WithError(err).Error("failed to open engine")
		}
	}()

	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(err).WithOperation("open")
	}
	cfg.PluginDirectories = append([]string(nil), cfg.PluginDirectories...)

	engineOptions, err := lib.NewEngineOptions(cfg.engineSettings())
	if err != nil {
		return nil, NewNativeFault("engine_options_new", err)
	}
	defer engineOptions.Free()

	driverOptions, err := lib.NewAudioDriverOptions(cfg.driverSettings())
	if err != nil {
		return nil, NewNativeFault("audio_driver_options_new", err)
	}
	defer driverOptions.Free()

	driver, err := lib.OpenAudioDriver(driverOptions)
	if err != nil {
		return nil, NewNativeFault("audio_driver_open", err)
	}

	handle, err := lib.OpenEngine(engineOptions, driver)
	if err != nil {
		return nil, NewNativeFault("engine_new_with_driver", err)
	}

	nodes := alloc.New(cfg.MaxNumNodes)
	if err := nodes.Reserve(alloc.ID(graph.RootGroup().NodeID())); err != nil {
		handle.Free()
		return nil, NewConfigError(err).WithOperation("open")
	}

	e = &Engine{
		cfg:     cfg,
		session: uuid.New().String(),
		handle:  handle,
		nodes:   nodes,
		buses:   alloc.New(cfg.MaxNumAudioBuses),
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		events:  o.events,
	}

	e.metrics.EngineOpened()
	e.metrics.SetIDCapacity(PoolNodes, cfg.MaxNumNodes)
	e.metrics.SetIDCapacity(PoolBuses, cfg.MaxNumAudioBuses)
	e.updatePoolGauges()
	e.logger = e.logger.WithSessionID(e.session)
	_ = e.events.PublishEngineOpened(e.session, cfg.SampleRate, cfg.BlockSize)

	e.logger.WithFields(map[string]interface{}{
		"sample_rate": cfg.SampleRate,
		"block_size":  cfg.BlockSize,
		"max_nodes":   cfg.MaxNumNodes,
		"max_buses":   cfg.MaxNumAudioBuses,
	}).Info("engine opened")

	return e, nil
}

// SessionID identifies this engine instance in logs, events and the journal.
func (e *Engine) SessionID() string {
	return e.session
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.PluginDirectories = append([]string(nil), e.cfg.PluginDirectories...)
	return cfg
}

// Send forwards an encoded OSC packet to the engine's command intake.
func (e *Engine) Send(packet []byte) error {
	e.life.RLock()
	defer e.life.RUnlock()

	if e.closed.Load() {
		return NewClosedError("engine is closed").WithOperation("send")
	}

	timer := telemetry.NewTimer()
	if err := e.handle.Send(packet); err != nil {
		fault := NewNativeFault("engine_send", err)
		e.metrics.RecordSend(telemetry.StatusFailed, len(packet), timer.Duration())
		e.metrics.RecordError(string(fault.Class), fault.Code)
		return fault
	}
	e.metrics.RecordSend(telemetry.StatusOK, len(packet), timer.Duration())
	return nil
}

// Close stops the engine and releases the native handle. It waits for an
// open request to finish. Only the first call has an effect.
func (e *Engine) Close() error {
	e.builder.Lock()
	defer e.builder.Unlock()
	e.life.Lock()
	defer e.life.Unlock()

	if e.closed.Swap(true) {
		return nil
	}
	e.handle.Free()
	e.handle = nil

	e.metrics.EngineClosed()
	_ = e.events.PublishEngineClosed(e.session)
	e.logger.Info("engine closed")
	return nil
}

// Begin opens a request at time t. It blocks while another request is open;
// the returned request holds the engine's id pools until Send or Discard.
func (e *Engine) Begin(t Time) (*Request, error) {
	e.builder.Lock()
	if e.closed.Load() {
		e.builder.Unlock()
		return nil, NewClosedError("engine is closed").WithOperation("begin")
	}
	return e.newRequest(t), nil
}

// TryBegin is Begin without blocking; it returns ErrBuilderBusy when a
// request is already open.
func (e *Engine) TryBegin(t Time) (*Request, error) {
	if !e.builder.TryLock() {
		return nil, ErrBuilderBusy
	}
	if e.closed.Load() {
		e.builder.Unlock()
		return nil, NewClosedError("engine is closed").WithOperation("begin")
	}
	return e.newRequest(t), nil
}

func (e *Engine) newRequest(t Time) *Request {
	r := At(t, e.nodes, e.buses)
	r.engine = e
	r.logger = e.logger
	r.metrics = e.metrics
	r.events = e.events
	r.session = e.session
	return r
}

// release is called by the open request when it is sent or discarded.
func (e *Engine) release() {
	e.updatePoolGauges()
	e.builder.Unlock()
}

func (e *Engine) updatePoolGauges() {
	e.metrics.SetIDsInUse(PoolNodes, e.nodes.Len())
	e.metrics.SetIDsInUse(PoolBuses, e.buses.Len())
}

// PoolStats reports identifier pool usage.
type PoolStats struct {
	NodesInUse    int
	NodesCapacity int
	BusesInUse    int
	BusesCapacity int
}

// Stats returns pool usage. It waits for an open request to finish.
func (e *Engine) Stats() PoolStats {
	e.builder.Lock()
	defer e.builder.Unlock()
	return PoolStats{
		NodesInUse:    e.nodes.Len(),
		NodesCapacity: e.nodes.Cap(),
		BusesInUse:    e.buses.Len(),
		BusesCapacity: e.buses.Cap(),
	}
}

func codeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
