package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaoskorobase/banga/pkg/alloc"
	"github.com/kaoskorobase/banga/pkg/graph"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

func detached(t Time, nodes, buses int) (*Request, *alloc.Allocator, *alloc.Allocator) {
	n := alloc.New(nodes)
	_ = n.Reserve(0)
	b := alloc.New(buses)
	return At(t, n, b), n, b
}

func addresses(r *Request) []string {
	out := make([]string, 0, r.Len())
	for _, m := range r.Messages() {
		out = append(out, m.Address)
	}
	return out
}

func TestRequestMessageOrder(t *testing.T) {
	r, _, _ := detached(2, 16, 4)

	g, err := r.Group(graph.TailOf(graph.RootGroup()))
	require.NoError(t, err)
	s, err := r.Synth("saw", graph.HeadOf(g), []float32{110}, nil)
	require.NoError(t, err)
	bus, err := r.AudioBus()
	require.NoError(t, err)
	require.NoError(t, r.MapOutput(s, 0, bus, graph.BusMappingReplace))
	fx, err := r.Synth("reverb", graph.After(s), nil, nil)
	require.NoError(t, err)
	require.NoError(t, r.MapInput(fx, 0, bus, graph.BusMappingFeedback))
	require.NoError(t, r.Activate(s))
	require.NoError(t, r.Activate(fx))
	require.NoError(t, r.Set(fx, 1, 0.3))
	require.NoError(t, r.WhenDone(s, graph.NodeDoneFreeSelf|graph.NodeDoneFreeFollowing))
	require.NoError(t, r.FreeAll(g))

	assert.Equal(t, []string{
		AddressGroupNew,
		AddressSynthNew,
		AddressSynthMapOutput,
		AddressSynthNew,
		AddressSynthMapInput,
		AddressSynthActivate,
		AddressSynthActivate,
		AddressNodeSet,
		AddressSynthDoneFlags,
		AddressGroupFreeAll,
	}, addresses(r))

	data, err := r.MarshalBinary()
	require.NoError(t, err)
	b := parseBundle(t, data)
	require.Len(t, b.Messages, r.Len())
	for i, m := range b.Messages {
		assert.Equal(t, r.Messages()[i].Address, m.Address)
	}

	requireMessage(t, b.Messages[2], AddressSynthMapOutput, int32(2), int32(0), int32(0), int32(4))
	requireMessage(t, b.Messages[3], AddressSynthNew, "reverb", int32(3), int32(2), int32(3))
	requireMessage(t, b.Messages[4], AddressSynthMapInput, int32(3), int32(0), int32(0), int32(2))
	requireMessage(t, b.Messages[7], AddressNodeSet, int32(3), int32(1), float32(0.3))
	requireMessage(t, b.Messages[8], AddressSynthDoneFlags, int32(2), int32(5))
	requireMessage(t, b.Messages[9], AddressGroupFreeAll, int32(1))
	assert.Equal(t, uint64(2)<<32, r.Timetag())
}

func TestRequestPlacementRelations(t *testing.T) {
	r, _, _ := detached(0, 8, 0)
	root := graph.RootGroup()

	a, err := r.Group(graph.HeadOf(root))
	require.NoError(t, err)
	_, err = r.Group(graph.TailOf(root))
	require.NoError(t, err)
	_, err = r.Group(graph.Before(a))
	require.NoError(t, err)
	_, err = r.Group(graph.After(a))
	require.NoError(t, err)

	msgs := r.Messages()
	want := [][]interface{}{
		{int32(1), int32(0), int32(graph.HeadOfGroup)},
		{int32(2), int32(0), int32(graph.TailOfGroup)},
		{int32(3), int32(1), int32(graph.BeforeNode)},
		{int32(4), int32(1), int32(graph.AfterNode)},
	}
	for i, args := range want {
		assert.Equal(t, args, msgs[i].Arguments, "message %d", i)
	}
	assert.NotEqual(t, msgs[2].Arguments[2], msgs[3].Arguments[2])
}

func TestRequestNodeExhaustion(t *testing.T) {
	r, nodes, _ := detached(0, 3, 0)

	_, err := r.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	_, err = r.Synth("sine", graph.HeadOf(graph.RootGroup()), nil, nil)
	require.NoError(t, err)

	_, err = r.Synth("sine", graph.HeadOf(graph.RootGroup()), nil, nil)
	require.Error(t, err)
	assert.True(t, IsResourceExhausted(err))
	assert.ErrorIs(t, err, alloc.ErrExhausted)

	assert.Equal(t, 2, r.Len(), "a failed operation appends nothing")
	assert.Equal(t, 3, nodes.Len())

	_, err = r.Group(graph.HeadOf(graph.RootGroup()))
	assert.True(t, IsResourceExhausted(err))
}

func TestRequestBusExhaustion(t *testing.T) {
	r, _, buses := detached(0, 4, 1)

	b, err := r.AudioBus()
	require.NoError(t, err)
	assert.Equal(t, graph.BusID(0), b.BusID())

	_, err = r.AudioBus()
	assert.True(t, IsResourceExhausted(err))

	require.NoError(t, r.FreeAudioBus(b))
	assert.Zero(t, buses.Len())
	assert.Zero(t, r.Len(), "bus management emits no messages")

	again, err := r.AudioBus()
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestRequestSynthOptionsRejected(t *testing.T) {
	r, nodes, _ := detached(0, 4, 0)

	_, err := r.Synth("sine", graph.HeadOf(graph.RootGroup()), []float32{1}, []interface{}{[]int32{1, 2}})
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
	assert.Zero(t, r.Len())
	assert.Equal(t, 1, nodes.Len(), "no id is allocated for a rejected synth")
}

func TestRequestFreeMisuse(t *testing.T) {
	var buf bytes.Buffer
	r, nodes, _ := detached(0, 4, 0)
	r.logger = telemetry.NewLoggerFrom(zerolog.New(&buf))

	require.NoError(t, r.Free(graph.SynthFromID(99)))
	require.NoError(t, r.Free(graph.SynthFromID(-1)))
	require.NoError(t, r.Free(graph.RootGroup()))

	assert.Equal(t, []string{AddressNodeFree, AddressNodeFree, AddressNodeFree}, addresses(r))
	assert.True(t, nodes.InUse(0), "the root group stays reserved")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte(`"level":"warn"`)))
	assert.Contains(t, buf.String(), ErrCodeOutOfRange)
}

func TestRequestFreeAllWith(t *testing.T) {
	r, nodes, _ := detached(0, 8, 0)

	g, err := r.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	a, err := r.Synth("a", graph.HeadOf(g), nil, nil)
	require.NoError(t, err)
	b, err := r.Synth("b", graph.TailOf(g), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, nodes.Len())

	require.NoError(t, r.FreeAll(g))
	assert.Equal(t, 4, nodes.Len(), "FreeAll leaves child ids allocated")

	require.NoError(t, r.FreeAllWith(g, a, b))
	assert.Equal(t, 2, nodes.Len())
	assert.True(t, nodes.InUse(alloc.ID(g.NodeID())))

	msgs := r.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, AddressGroupFreeAll, last.Address)
	assert.Equal(t, []interface{}{int32(1)}, last.Arguments)
}

func TestRequestFreeAllWithKeepsGroupAndRoot(t *testing.T) {
	var buf bytes.Buffer
	r, nodes, _ := detached(0, 8, 0)
	r.logger = telemetry.NewLoggerFrom(zerolog.New(&buf))

	g, err := r.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	a, err := r.Synth("a", graph.HeadOf(g), nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.FreeAllWith(g, graph.RootGroup(), g, a))
	assert.True(t, nodes.InUse(0), "the root group stays reserved")
	assert.True(t, nodes.InUse(alloc.ID(g.NodeID())), "the group outlives /group/freeAll")
	assert.False(t, nodes.InUse(alloc.ID(a.NodeID())))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"level":"warn"`)))

	next, err := r.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	assert.Equal(t, a.NodeID(), next.NodeID())
}

func TestRequestDiscardRollsBack(t *testing.T) {
	e, lib := openLoopback(t, nil)
	ctx := context.Background()

	req, err := e.Begin(0)
	require.NoError(t, err)
	g, err := req.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)
	require.NoError(t, req.Send(ctx))
	before := e.Stats()

	req, err = e.Begin(0)
	require.NoError(t, err)
	_, err = req.Group(graph.HeadOf(g))
	require.NoError(t, err)
	_, err = req.AudioBus()
	require.NoError(t, err)
	require.NoError(t, req.Free(g))
	req.Discard()
	req.Discard()

	assert.Equal(t, before, e.Stats())
	assert.Len(t, lib.Packets(), 1)

	_, err = req.Group(graph.HeadOf(graph.RootGroup()))
	assert.True(t, IsClosed(err))
	assert.True(t, IsClosed(req.Send(ctx)))
}

func TestRequestSentIsFinished(t *testing.T) {
	e, _ := openLoopback(t, nil)

	req, err := e.Begin(0)
	require.NoError(t, err)
	require.NoError(t, req.Send(context.Background()))

	err = req.Send(context.Background())
	assert.True(t, IsClosed(err))
	req.Discard()

	// The builder was released exactly once.
	next, err := e.TryBegin(0)
	require.NoError(t, err)
	next.Discard()
}

func TestDetachedRequestCannotSend(t *testing.T) {
	r, _, _ := detached(0, 2, 0)
	err := r.Send(context.Background())
	assert.True(t, IsResourceMisuse(err))
}

func TestRequestMessagesIsCopy(t *testing.T) {
	r, _, _ := detached(1.25, 4, 0)
	_, err := r.Group(graph.HeadOf(graph.RootGroup()))
	require.NoError(t, err)

	msgs := r.Messages()
	msgs[0] = nil
	assert.NotNil(t, r.Messages()[0])
}

// The encoded bundle carries the time tag bit for bit, including fractions
// finer than a nanosecond.
func TestRequestWireTimetag(t *testing.T) {
	tests := []struct {
		name string
		in   Time
		want uint64
	}{
		{name: "zero", in: 0, want: 0},
		{name: "dyadic", in: 1.25, want: 1<<32 | 0x40000000},
		{name: "tenth of a millisecond", in: 10.0001, want: 0x0000000a00068db8},
		{name: "sub-microsecond", in: 5.0000001, want: 0x00000005000001ad},
		{name: "two lsb", in: Time(3 + 2.0/(1<<32)), want: 3<<32 | 2},
		{name: "three lsb", in: Time(3 + 3.0/(1<<32)), want: 3<<32 | 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := detached(tt.in, 4, 0)
			_, err := r.Group(graph.HeadOf(graph.RootGroup()))
			require.NoError(t, err)
			require.Equal(t, tt.want, r.Timetag())

			data, err := r.MarshalBinary()
			require.NoError(t, err)
			require.Greater(t, len(data), 20)
			assert.Equal(t, []byte("#bundle\x00"), data[:8])
			assert.Equal(t, r.Timetag(), binary.BigEndian.Uint64(data[8:16]))

			msg, err := r.Messages()[0].MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, uint32(len(msg)), binary.BigEndian.Uint32(data[16:20]))
			assert.Equal(t, msg, data[20:])
		})
	}
}

func TestRequestEmptyBundle(t *testing.T) {
	r, _, _ := detached(2, 1, 0)
	data, err := r.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte("#bundle\x00\x00\x00\x00\x02\x00\x00\x00\x00"), data)
}
