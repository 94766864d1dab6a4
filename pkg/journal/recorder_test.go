package journal

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/graph"
	"github.com/kaoskorobase/banga/pkg/native"
	"github.com/kaoskorobase/banga/pkg/native/loopback"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

func TestRecorderJournalsEngineSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	require.NoError(t, err)
	rec := NewRecorder(store, nil)
	rec.Attach(events)

	lib := loopback.New()
	e, err := engine.Open(ctx, lib, engine.DefaultConfig(), engine.WithEvents(events))
	require.NoError(t, err)

	req, err := e.Begin(2)
	require.NoError(t, err)
	_, err = req.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	require.NoError(t, req.Send(ctx))

	lib.FailOn(loopback.CallSend, native.MemoryError, "queue full")
	req, err = e.Begin(3)
	require.NoError(t, err)
	require.NoError(t, req.Set(graph.RootGroup(), 0, 1))
	require.Error(t, req.Send(ctx))

	require.NoError(t, e.Close())
	assert.Zero(t, rec.Failures())

	session, err := store.GetSession(ctx, e.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 44100, session.SampleRate)
	assert.NotNil(t, session.ClosedAt)

	entries, err := store.ListBundles(ctx, Filter{SessionID: &session.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, StatusSent, entries[0].Status)
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, engine.TimeToTimetag(2), entries[0].Timetag)
	assert.Equal(t, []string{engine.AddressGroupNew}, entries[0].Addresses)
	assert.Positive(t, entries[0].Bytes)

	assert.Equal(t, StatusFailed, entries[1].Status)
	require.NotNil(t, entries[1].Error)
	assert.Contains(t, *entries[1].Error, "queue full")
}

func TestRecorderCountsFailures(t *testing.T) {
	store := setupTestStore(t)
	var buf bytes.Buffer
	rec := NewRecorder(store, telemetry.NewLoggerFrom(zerolog.New(&buf)))

	// Closing a session the journal never saw fails.
	rec.Handle(telemetry.Event{Type: telemetry.EventTypeEngineClosed, SessionID: "ghost"})
	// Unrelated events and bundle events without a bundle are ignored.
	rec.Handle(telemetry.Event{Type: telemetry.EventTypeIDMisuse})
	rec.Handle(telemetry.Event{Type: telemetry.EventTypeBundleSent})

	assert.Equal(t, int64(1), rec.Failures())
	assert.Contains(t, buf.String(), "Failed to journal event")
}
