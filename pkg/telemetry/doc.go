// Package telemetry provides logging, tracing, metrics and events for banga.
//
// The package wraps zerolog for structured logging, OpenTelemetry for
// tracing, Prometheus for metrics and a small in-process event bus. Every
// component has a no-op form, so engines and players can be used without any
// telemetry configured.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	eng, err := engine.Open(ctx, lib, cfg, engine.WithTelemetry(tel))
//
// # Metrics
//
// With metrics enabled the collector exports, under the configured
// namespace:
//
//	bundles_total{status}            sent, failed and discarded requests
//	bundle_bytes                     encoded bundle size
//	send_duration_seconds{status}    time spent handing a packet to the engine
//	messages_total{address}          OSC messages by address
//	ids_in_use{pool}, ids_capacity{pool}
//	id_misuse_total{pool}            out-of-range releases
//	errors_by_class_total{class}, errors_by_code_total{code}
//	cues_played_total, open_engines
//
// # Events
//
// The EventPublisher delivers engine.opened, engine.closed, bundle.sent,
// bundle.failed, ids.exhausted, ids.misuse and score.loaded events. In async
// mode delivery happens on the publisher's goroutine in publish order, which
// keeps subscribers such as the journal off the send path.
package telemetry
