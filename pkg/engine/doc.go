// Package engine drives the node graph of a running synthesis engine.
//
// # Overview
//
// An Engine is opened from a native.Library and a Config. It owns the
// native engine handle and two identifier pools, one for nodes (groups and
// synths) and one for audio buses, sized from the configuration. Node id 0
// is the root group the engine creates at startup and is never handed out.
//
// Graph changes are made through a Request: a time-tagged bundle of OSC
// commands built on the control thread and handed to the engine in one
// Send. Each operation appends exactly one message, in call order:
//
//	Group          /group/new                      id, target, relation
//	Synth          /synth/new                      name, id, target, relation, controls...
//	Activate       /synth/activate                 id
//	MapInput       /synth/map/input                synth, index, bus, flags
//	MapOutput      /synth/map/output               synth, index, bus, flags
//	Set            /node/set                       id, index, value
//	Free           /node/free                      id
//	FreeAll        /group/freeAll                  id
//	WhenDone       /synth/property/doneFlags/set   id, flags
//
// Only one Request per engine is open at a time; Begin blocks until the
// previous one is sent or discarded. Sending never waits for the audio
// thread: the native side only enqueues the packet.
//
// # Time
//
// Bundles carry a 64-bit fixed-point time tag, whole seconds in the upper
// 32 bits and the fraction in the lower 32 bits. See TimeToTimetag. The tag
// is written to the wire unchanged, so all 32 fraction bits reach the engine.
//
// # Identifier reuse
//
// Free returns an id to its pool immediately, before the engine has
// processed the matching /node/free. Do not reuse a freed id until a full
// bundle round trip has completed.
//
// # Errors
//
// Errors are *EngineError values carrying an ErrorClass. Use the Is*
// predicates or errors.Is with a class-only EngineError to branch on them.
//
// # Usage
//
//	eng, err := engine.Open(ctx, lib, engine.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	req, err := eng.Begin(0)
//	if err != nil {
//	    return err
//	}
//	g, _ := req.Group(graph.HeadOf(graph.RootGroup()))
//	s, _ := req.Synth("sine", graph.HeadOf(g), []float32{440, 0.5}, nil)
//	_ = req.Activate(s)
//	err = req.Send(ctx)
package engine
