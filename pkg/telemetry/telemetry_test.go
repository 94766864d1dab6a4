package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "live", mutate: func(c *Config) { *c = *LiveConfig() }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "bad exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "invalid trace exporter",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{
			name: "metrics without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: "listen address",
		},
		{name: "event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFrom(zerolog.New(&buf)).
		NewComponentLogger("engine").
		WithSessionID("s-1").
		WithPool("node")

	logger.Warn("id out of range")

	out := buf.String()
	assert.Contains(t, out, `"component":"engine"`)
	assert.Contains(t, out, `"session_id":"s-1"`)
	assert.Contains(t, out, `"pool":"node"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestConsoleTimeFormat(t *testing.T) {
	tests := map[string]string{
		"unix":      time.DateTime,
		"unixms":    "2006-01-02 15:04:05.000",
		"unixmicro": "2006-01-02 15:04:05.000000",
		"rfc3339":   time.RFC3339,
	}
	for format, want := range tests {
		assert.Equal(t, want, consoleTimeFormat(format), format)
	}
}

func TestConsoleLogKeepsDate(t *testing.T) {
	prev := zerolog.TimeFieldFormat
	t.Cleanup(func() { zerolog.TimeFieldFormat = prev })

	path := filepath.Join(t.TempDir(), "banga.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "console", Output: path, TimeFormat: "unixms"})
	require.NoError(t, err)
	logger.Info("engine opened")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} INF engine opened`, string(data))
}

func TestShutdownClosesLogFile(t *testing.T) {
	prev := zerolog.TimeFieldFormat
	t.Cleanup(func() { zerolog.TimeFieldFormat = prev })

	path := filepath.Join(t.TempDir(), "banga.log")
	cfg := DefaultConfig()
	cfg.Logging.Output = path
	cfg.Logging.Format = "json"
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)

	tel.Logger.NewComponentLogger("engine").Info("opened")
	require.NotNil(t, tel.Logger.file)
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Nil(t, tel.Logger.file)
	assert.NoError(t, tel.Logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"engine"`)
	assert.Contains(t, string(data), `"message":"opened"`)
}

func TestNopMetricsAcceptEverything(t *testing.T) {
	m := NewNopMetrics()
	assert.NotPanics(t, func() {
		m.RecordSend(StatusOK, 10, time.Millisecond)
		m.RecordDiscard()
		m.RecordMessages([]string{"/node/free"})
		m.SetIDsInUse("node", 1)
		m.SetIDCapacity("node", 2)
		m.RecordMisuse("node")
		m.RecordError("closed", "CLOSED")
		m.RecordCue()
		m.EngineOpened()
		m.EngineClosed()
	})
	assert.Nil(t, m.Registry())
	require.NoError(t, m.StartMetricsServer(nil))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestMetricsRecord(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordSend(StatusOK, 64, time.Microsecond)
	m.RecordSend(StatusFailed, 64, time.Microsecond)
	m.RecordDiscard()
	m.RecordMessages([]string{"/group/new", "/synth/new", "/group/new"})
	m.SetIDsInUse("node", 3)
	m.RecordMisuse("audio_bus")
	m.RecordError("native_fault", "audio_driver_start")
	m.EngineOpened()

	out := scrape(t, m)
	for _, line := range []string{
		`banga_bundles_total{status="ok"} 1`,
		`banga_bundles_total{status="failed"} 1`,
		`banga_bundles_total{status="discarded"} 1`,
		`banga_messages_total{address="/group/new"} 2`,
		`banga_messages_total{address="/synth/new"} 1`,
		`banga_ids_in_use{pool="node"} 3`,
		`banga_id_misuse_total{pool="audio_bus"} 1`,
		`banga_errors_by_code_total{code="audio_driver_start"} 1`,
		`banga_open_engines 1`,
	} {
		assert.Contains(t, out, line)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestNopTracer(t *testing.T) {
	tr := NewNopTracer()
	ctx, span := tr.StartBundleSpan(context.Background(), 1<<32, 3)
	assert.False(t, span.SpanContext().IsValid())
	assert.Empty(t, TraceID(ctx))
	EndSpan(span, errors.New("boom"))
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracerNoneExporterRecordsSpans(t *testing.T) {
	cfg := DefaultConfig().Tracing
	cfg.Enabled = true
	cfg.Exporter = "none"
	tr, err := NewTracer(cfg, "banga", "test", "test")
	require.NoError(t, err)
	defer tr.Shutdown(context.Background())

	ctx, span := tr.StartScoreSpan(context.Background(), "demo", 2)
	assert.True(t, span.SpanContext().IsValid())
	assert.NotEmpty(t, TraceID(ctx))
	EndSpan(span, nil)
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4})
	require.NoError(t, err)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeBundleSent))

	require.NoError(t, ep.PublishEngineOpened("s", 48000, 64))
	require.NoError(t, ep.PublishBundleSent("s", BundleInfo{Sequence: 1, Messages: 2, Bytes: 60}))

	require.Len(t, got, 1)
	assert.Equal(t, EventTypeBundleSent, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
	require.NotNil(t, got[0].Bundle)
	assert.Equal(t, int64(1), got[0].Bundle.Sequence)
}

func TestEventPublisherAsyncPreservesOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 128, MaxBatchSize: 8, EnableAsync: true})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		seq []int64
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seq = append(seq, e.Bundle.Sequence)
	}, nil)

	for i := int64(1); i <= 100; i++ {
		require.NoError(t, ep.PublishBundleSent("s", BundleInfo{Sequence: i}))
	}
	require.NoError(t, ep.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seq, 100)
	for i, s := range seq {
		assert.Equal(t, int64(i+1), s)
	}

	assert.ErrorIs(t, ep.PublishEngineClosed("s"), ErrPublisherStopped)
}

func TestEventPublisherBufferFull(t *testing.T) {
	ep := &EventPublisher{
		config: EventsConfig{Enabled: true, BufferSize: 1, EnableAsync: true},
		buffer: make(chan Event, 1),
		ctx:    context.Background(),
	}
	require.NoError(t, ep.PublishEngineClosed("s"))
	assert.ErrorIs(t, ep.PublishEngineClosed("s"), ErrBufferFull)
}

func TestEventFilters(t *testing.T) {
	warn := Event{Level: EventLevelWarning, SessionID: "a"}
	info := Event{Level: EventLevelInfo, SessionID: "b"}

	assert.True(t, FilterByLevel(EventLevelWarning)(warn))
	assert.False(t, FilterByLevel(EventLevelWarning)(info))
	assert.True(t, FilterBySession("b")(info))
	assert.False(t, FilterBySession("b")(warn))
}

func TestGlobalFilterDropsEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	require.NoError(t, err)
	ep.AddFilter(FilterByLevel(EventLevelError))

	var n int
	ep.Subscribe(func(Event) { n++ }, nil)
	require.NoError(t, ep.PublishEngineClosed("s"))
	require.NoError(t, ep.PublishBundleFailed("s", BundleInfo{}, "device busy"))
	assert.Equal(t, 1, n)
}

func TestNopTelemetry(t *testing.T) {
	tel := NewNopTelemetry()
	tel.Logger.Info("discarded")
	require.NoError(t, tel.Flush(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestScoreSpanEvents(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := &Tracer{provider: provider, tracer: provider.Tracer("banga")}
	defer tr.Shutdown(ctx)

	_, span := tr.StartScoreSpan(ctx, "demo", 2)
	AddEvent(span, "cue.sent", AttrCue.Int(0), AttrMessages.Int(3))
	AddEvent(span, "cue.sent", AttrCue.Int(1), AttrMessages.Int(1))
	EndSpan(span, nil)
	require.NoError(t, tr.ForceFlush(ctx))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "score.play", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	require.Len(t, ended[0].Events(), 2)
	assert.Equal(t, "cue.sent", ended[0].Events()[1].Name)
	assert.Contains(t, ended[0].Events()[1].Attributes, AttrCue.Int(1))
}
