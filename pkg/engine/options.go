package engine

import "github.com/kaoskorobase/banga/pkg/telemetry"

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

func defaultOptions() options {
	return options{
		logger:  telemetry.NewNopLogger(),
		metrics: telemetry.NewNopMetrics(),
		tracer:  telemetry.NewNopTracer(),
		events:  telemetry.NewNopEventPublisher(),
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithEvents sets the event publisher.
func WithEvents(p *telemetry.EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.events = p
		}
	}
}

// WithTelemetry wires every component of t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) {
		if t == nil {
			return
		}
		WithLogger(t.Logger.NewComponentLogger("engine"))(o)
		WithMetrics(t.Metrics)(o)
		WithTracer(t.Tracer)(o)
		WithEvents(t.Events)(o)
	}
}
