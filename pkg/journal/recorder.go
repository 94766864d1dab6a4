package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// Recorder writes engine events to a Store. Attach it to the publisher the
// engine was opened with; with an async publisher the journal is written
// off the send path.
type Recorder struct {
	store    Store
	logger   *telemetry.Logger
	timeout  time.Duration
	failures atomic.Int64
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store Store, logger *telemetry.Logger) *Recorder {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Recorder{
		store:   store,
		logger:  logger.NewComponentLogger("journal"),
		timeout: 5 * time.Second,
	}
}

// Attach subscribes the recorder to session and bundle events.
func (r *Recorder) Attach(p *telemetry.EventPublisher) {
	p.Subscribe(r.Handle, telemetry.FilterByType(
		telemetry.EventTypeEngineOpened,
		telemetry.EventTypeEngineClosed,
		telemetry.EventTypeBundleSent,
		telemetry.EventTypeBundleFailed,
	))
}

// Failures returns how many events could not be written.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

// Handle writes one event. Other event types are ignored.
func (r *Recorder) Handle(ev telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch ev.Type {
	case telemetry.EventTypeEngineOpened:
		err = r.store.OpenSession(ctx, &Session{
			ID:         ev.SessionID,
			SampleRate: intData(ev.Data, "sample_rate"),
			BlockSize:  intData(ev.Data, "block_size"),
			OpenedAt:   ev.Timestamp,
		})
	case telemetry.EventTypeEngineClosed:
		err = r.store.CloseSession(ctx, ev.SessionID, ev.Timestamp)
	case telemetry.EventTypeBundleSent, telemetry.EventTypeBundleFailed:
		if ev.Bundle == nil {
			return
		}
		entry := &Entry{
			SessionID:  ev.SessionID,
			Sequence:   ev.Bundle.Sequence,
			Timetag:    ev.Bundle.Timetag,
			Messages:   ev.Bundle.Messages,
			Bytes:      ev.Bundle.Bytes,
			Addresses:  ev.Bundle.Addresses,
			Status:     StatusSent,
			RecordedAt: ev.Timestamp,
		}
		if ev.Type == telemetry.EventTypeBundleFailed {
			entry.Status = StatusFailed
			if reason, ok := ev.Data["reason"].(string); ok {
				entry.Error = &reason
			}
		}
		err = r.store.RecordBundle(ctx, entry)
	default:
		return
	}

	if err != nil {
		r.failures.Add(1)
		r.logger.WithError(err).WithField("event", ev.Type).Warn("Failed to journal event")
	}
}

func intData(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
