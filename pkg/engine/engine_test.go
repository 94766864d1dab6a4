package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaoskorobase/banga/pkg/alloc"
	"github.com/kaoskorobase/banga/pkg/graph"
	"github.com/kaoskorobase/banga/pkg/native"
	"github.com/kaoskorobase/banga/pkg/native/loopback"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

func openLoopback(t *testing.T, mutate func(*Config), opts ...Option) (*Engine, *loopback.Library) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	lib := loopback.New()
	e, err := Open(context.Background(), lib, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, lib
}

func parseBundle(t *testing.T, data []byte) *osc.Bundle {
	t.Helper()
	p, err := osc.ParsePacket(string(data))
	require.NoError(t, err)
	b, ok := p.(*osc.Bundle)
	require.True(t, ok, "packet is %T, not a bundle", p)
	return b
}

func requireMessage(t *testing.T, m *osc.Message, address string, args ...interface{}) {
	t.Helper()
	require.Equal(t, address, m.Address)
	require.Equal(t, args, m.Arguments)
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	e, lib := openLoopback(t, nil)

	req, err := e.Begin(0)
	require.NoError(t, err)
	g, err := req.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	s, err := req.Synth("sine", graph.HeadOf(g), []float32{440, 0.5}, nil)
	require.NoError(t, err)
	require.NoError(t, req.Send(ctx))

	assert.Equal(t, graph.NodeID(1), g.NodeID())
	assert.Equal(t, graph.NodeID(2), s.NodeID())

	req, err = e.Begin(0)
	require.NoError(t, err)
	require.NoError(t, req.Free(s))
	require.NoError(t, req.Send(ctx))

	req, err = e.Begin(0)
	require.NoError(t, err)
	again, err := req.Synth("sine", graph.TailOf(g), nil, nil)
	require.NoError(t, err)
	require.NoError(t, req.Send(ctx))
	assert.Equal(t, graph.NodeID(2), again.NodeID())

	packets := lib.Packets()
	require.Len(t, packets, 3)

	first := parseBundle(t, packets[0])
	require.Len(t, first.Messages, 2)
	requireMessage(t, first.Messages[0], AddressGroupNew, int32(1), int32(0), int32(0))
	requireMessage(t, first.Messages[1], AddressSynthNew, "sine", int32(2), int32(1), int32(0), float32(440), float32(0.5))

	second := parseBundle(t, packets[1])
	require.Len(t, second.Messages, 1)
	requireMessage(t, second.Messages[0], AddressNodeFree, int32(2))

	third := parseBundle(t, packets[2])
	requireMessage(t, third.Messages[0], AddressSynthNew, "sine", int32(2), int32(1), int32(1))
}

func TestGoldenBundle(t *testing.T) {
	e, lib := openLoopback(t, nil)

	req, err := e.Begin(10.0001)
	require.NoError(t, err)
	g, err := req.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	s, err := req.Synth("sine", graph.HeadOf(g), []float32{440, 0.5}, nil)
	require.NoError(t, err)
	require.NoError(t, req.Activate(s))
	require.NoError(t, req.Set(s, 0, 220))
	require.NoError(t, req.Send(context.Background()))

	packets := lib.Packets()
	require.Len(t, packets, 1)
	assert.Equal(t, []byte("#bundle\x00"), packets[0][:8])
	assert.Equal(t, []byte{0, 0, 0, 0x0a, 0, 0x06, 0x8d, 0xb8}, packets[0][8:16])

	goldie.New(t).Assert(t, "scenario_bundle", packets[0])
}

func TestOpenReleasesOptionsOnFailure(t *testing.T) {
	tests := []struct {
		call      string
		code      native.ErrorCode
		allocated int
	}{
		{call: loopback.CallNewEngineOptions, code: native.MemoryError, allocated: 0},
		{call: loopback.CallNewAudioDriverOptions, code: native.ArgumentError, allocated: 1},
		{call: loopback.CallOpenAudioDriver, code: native.AudioDriverInitializationError, allocated: 2},
		{call: loopback.CallOpenEngine, code: native.AudioDriverStartError, allocated: 2},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			lib := loopback.New()
			lib.FailOn(tt.call, tt.code, "injected")

			e, err := Open(context.Background(), lib, DefaultConfig())
			require.Error(t, err)
			assert.Nil(t, e)
			assert.True(t, IsNativeFault(err))
			assert.Equal(t, tt.code, native.CodeOf(err))

			var ee *EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.call, ee.Operation)
			assert.Equal(t, tt.code.String(), ee.Code)

			stats := lib.Stats()
			assert.Equal(t, tt.allocated, stats.OptionsAllocated)
			assert.Equal(t, stats.OptionsAllocated, stats.OptionsFreed)
			assert.Zero(t, stats.EnginesFreed)
		})
	}
}

func TestOpenSuccessReleasesOptions(t *testing.T) {
	e, lib := openLoopback(t, func(c *Config) {
		c.SampleRate = 48000
		c.BlockSize = 64
		c.PluginDirectories = []string{"/plugins"}
	})

	stats := lib.Stats()
	assert.Equal(t, 2, stats.OptionsAllocated)
	assert.Equal(t, 2, stats.OptionsFreed)

	assert.Equal(t, 48000, lib.EngineSettings().SampleRate)
	assert.Equal(t, []string{"/plugins"}, lib.EngineSettings().PluginPaths)
	assert.Equal(t, 64, lib.DriverSettings().BufferSize)
	assert.Equal(t, 48000, e.Config().SampleRate)
	assert.NotEmpty(t, e.SessionID())

	ps := e.Stats()
	assert.Equal(t, 1, ps.NodesInUse, "root group is reserved")
	assert.Equal(t, 1024, ps.NodesCapacity)
	assert.Zero(t, ps.BusesInUse)
}

func TestOpenInvalidConfigMakesNoNativeCall(t *testing.T) {
	lib := loopback.New()
	cfg := DefaultConfig()
	cfg.MaxNumNodes = 0

	_, err := Open(context.Background(), lib, cfg)
	require.Error(t, err)
	assert.Equal(t, ErrorClassInvalidConfig, ClassOf(err))
	assert.Zero(t, lib.Stats().OptionsAllocated)
}

func TestCloseExactlyOnce(t *testing.T) {
	lib := loopback.New()
	e, err := Open(context.Background(), lib, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, lib.Stats().EnginesFreed)

	assert.True(t, IsClosed(e.Send([]byte("#bundle\x00"))))
	_, err = e.Begin(0)
	assert.True(t, IsClosed(err))
	_, err = e.TryBegin(0)
	assert.True(t, IsClosed(err))
}

func TestCloseConcurrent(t *testing.T) {
	lib := loopback.New()
	e, err := Open(context.Background(), lib, DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, lib.Stats().EnginesFreed)
}

func TestSendNativeFault(t *testing.T) {
	e, lib := openLoopback(t, nil)
	lib.FailOn(loopback.CallSend, native.SystemError, "queue full")

	err := e.Send([]byte("#bundle\x00"))
	require.Error(t, err)
	assert.True(t, IsNativeFault(err))
	assert.Contains(t, err.Error(), "queue full")
}

func TestTryBeginBusy(t *testing.T) {
	e, _ := openLoopback(t, nil)

	req, err := e.TryBegin(0)
	require.NoError(t, err)

	_, err = e.TryBegin(0)
	assert.ErrorIs(t, err, ErrBuilderBusy)

	req.Discard()
	req, err = e.TryBegin(0)
	require.NoError(t, err)
	req.Discard()
}

func TestBeginWaitsForOpenRequest(t *testing.T) {
	e, _ := openLoopback(t, nil)

	first, err := e.Begin(0)
	require.NoError(t, err)

	started := make(chan *Request)
	go func() {
		r, err := e.Begin(0)
		if err != nil {
			close(started)
			return
		}
		started <- r
	}()

	select {
	case <-started:
		t.Fatal("second Begin returned while the first request was open")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = first.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	require.NoError(t, first.Send(context.Background()))

	select {
	case second, ok := <-started:
		require.True(t, ok)
		g, err := second.Group(graph.HeadOf(graph.RootGroup()))
		require.NoError(t, err)
		assert.Equal(t, graph.NodeID(2), g.NodeID())
		second.Discard()
	case <-time.After(time.Second):
		t.Fatal("second Begin did not return")
	}
}

func TestFailedSendRollsBack(t *testing.T) {
	ctx := context.Background()
	e, lib := openLoopback(t, nil)

	req, err := e.Begin(0)
	require.NoError(t, err)
	g, err := req.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	require.NoError(t, req.Send(ctx))

	lib.FailOn(loopback.CallSend, native.SystemError, "queue full")

	req, err = e.Begin(0)
	require.NoError(t, err)
	_, err = req.Synth("sine", graph.HeadOf(g), nil, nil)
	require.NoError(t, err)
	_, err = req.AudioBus()
	require.NoError(t, err)
	require.NoError(t, req.Free(g))

	err = req.Send(ctx)
	require.Error(t, err)
	assert.True(t, IsNativeFault(err))

	assert.Equal(t, PoolStats{NodesInUse: 2, NodesCapacity: 1024, BusesInUse: 0, BusesCapacity: 1024}, e.Stats())
	assert.True(t, e.nodes.InUse(alloc.ID(g.NodeID())))

	assert.True(t, IsClosed(req.Send(ctx)), "a request is finished after a failed send")

	lib.Heal(loopback.CallSend)
	req, err = e.Begin(0)
	require.NoError(t, err)
	s, err := req.Synth("sine", graph.HeadOf(g), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, graph.NodeID(2), s.NodeID())
	require.NoError(t, req.Send(ctx))
	assert.Len(t, lib.Packets(), 2)
}

func TestEngineEvents(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	require.NoError(t, err)

	var got []telemetry.Event
	events.Subscribe(func(ev telemetry.Event) { got = append(got, ev) }, nil)

	lib := loopback.New()
	cfg := DefaultConfig()
	cfg.MaxNumNodes = 2
	e, err := Open(context.Background(), lib, cfg, WithEvents(events))
	require.NoError(t, err)

	req, err := e.Begin(0.25)
	require.NoError(t, err)
	_, err = req.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	_, err = req.Group(graph.HeadOf(graph.RootGroup()))
	require.Error(t, err)
	require.NoError(t, req.Send(context.Background()))
	require.NoError(t, e.Close())

	types := make([]string, len(got))
	for i, ev := range got {
		types[i] = ev.Type
		assert.Equal(t, e.SessionID(), ev.SessionID)
	}
	assert.Equal(t, []string{
		telemetry.EventTypeEngineOpened,
		telemetry.EventTypeIDsExhausted,
		telemetry.EventTypeBundleSent,
		telemetry.EventTypeEngineClosed,
	}, types)

	sent := got[2].Bundle
	require.NotNil(t, sent)
	assert.Equal(t, int64(1), sent.Sequence)
	assert.Equal(t, uint64(0x40000000), sent.Timetag)
	assert.Equal(t, 1, sent.Messages)
	assert.Equal(t, []string{AddressGroupNew}, sent.Addresses)
	assert.Equal(t, len(lib.Packets()[0]), sent.Bytes)
}
