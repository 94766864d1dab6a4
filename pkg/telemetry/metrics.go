package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Send outcomes used as the status label.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusDiscarded = "discarded"
)

// Metrics provides Prometheus metrics for engines and the requests sent to
// them. A disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Bundle metrics
	bundles        *prometheus.CounterVec
	bundleBytes    prometheus.Histogram
	sendDuration   *prometheus.HistogramVec
	messagesByAddr *prometheus.CounterVec

	// Identifier pool metrics
	idsInUse    *prometheus.GaugeVec
	idsCapacity *prometheus.GaugeVec
	idMisuse    *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Score metrics
	cuesPlayed prometheus.Counter

	// System metrics
	openEngines prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewNopMetrics returns a disabled metrics collector.
func NewNopMetrics() *Metrics {
	return &Metrics{}
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.SendDurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		bundles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundles_total",
				Help:      "Total number of bundles by outcome",
			},
			[]string{"status"},
		),
		bundleBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bundle_bytes",
				Help:      "Encoded size of sent bundles in bytes",
				Buckets:   prometheus.ExponentialBuckets(32, 2, 12),
			},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Time spent handing a packet to the engine",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		messagesByAddr: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of OSC messages sent by address",
			},
			[]string{"address"},
		),

		idsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ids_in_use",
				Help:      "Identifiers currently allocated per pool",
			},
			[]string{"pool"},
		),
		idsCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ids_capacity",
				Help:      "Identifier pool capacity",
			},
			[]string{"pool"},
		),
		idMisuse: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "id_misuse_total",
				Help:      "Releases of identifiers outside their pool's range",
			},
			[]string{"pool"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		cuesPlayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cues_played_total",
				Help:      "Total number of score cues sent",
			},
		),

		openEngines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_engines",
				Help:      "Current number of open engines",
			},
		),
	}

	registry.MustRegister(
		m.bundles,
		m.bundleBytes,
		m.sendDuration,
		m.messagesByAddr,
		m.idsInUse,
		m.idsCapacity,
		m.idMisuse,
		m.errorsByClass,
		m.errorsByCode,
		m.cuesPlayed,
		m.openEngines,
	)

	return m, nil
}

// Bundle Metrics

// RecordSend records one packet handed to the engine.
func (m *Metrics) RecordSend(status string, bytes int, duration time.Duration) {
	if m.bundles == nil {
		return
	}
	m.bundles.WithLabelValues(status).Inc()
	m.sendDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == StatusOK {
		m.bundleBytes.Observe(float64(bytes))
	}
}

// RecordDiscard counts a request dropped without sending.
func (m *Metrics) RecordDiscard() {
	if m.bundles == nil {
		return
	}
	m.bundles.WithLabelValues(StatusDiscarded).Inc()
}

// RecordMessages counts the messages of a sent bundle by address.
func (m *Metrics) RecordMessages(addresses []string) {
	if m.messagesByAddr == nil {
		return
	}
	for _, a := range addresses {
		m.messagesByAddr.WithLabelValues(a).Inc()
	}
}

// Identifier Pool Metrics

// SetIDsInUse sets the number of allocated ids in pool.
func (m *Metrics) SetIDsInUse(pool string, n int) {
	if m.idsInUse == nil {
		return
	}
	m.idsInUse.WithLabelValues(pool).Set(float64(n))
}

// SetIDCapacity sets the capacity of pool.
func (m *Metrics) SetIDCapacity(pool string, n int) {
	if m.idsCapacity == nil {
		return
	}
	m.idsCapacity.WithLabelValues(pool).Set(float64(n))
}

// RecordMisuse counts an out-of-range release in pool.
func (m *Metrics) RecordMisuse(pool string) {
	if m.idMisuse == nil {
		return
	}
	m.idMisuse.WithLabelValues(pool).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Score Metrics

// RecordCue counts a score cue sent to the engine.
func (m *Metrics) RecordCue() {
	if m.cuesPlayed == nil {
		return
	}
	m.cuesPlayed.Inc()
}

// System Metrics

// EngineOpened increments the open engine gauge.
func (m *Metrics) EngineOpened() {
	if m.openEngines == nil {
		return
	}
	m.openEngines.Inc()
}

// EngineClosed decrements the open engine gauge.
func (m *Metrics) EngineClosed() {
	if m.openEngines == nil {
		return
	}
	m.openEngines.Dec()
}

// Registry returns the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}


// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Serve errors
// are passed to onError, which may be nil.
func (m *Metrics) StartMetricsServer(onError func(error)) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
