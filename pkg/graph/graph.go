// Package graph models the identity of engine graph elements: nodes (groups
// and synths) in one id namespace and audio buses in another, plus the
// placement of new nodes relative to existing ones.
package graph

import (
	"fmt"

	"github.com/kaoskorobase/banga/pkg/alloc"
)

// NodeID identifies a node in the engine graph.
type NodeID alloc.ID

// BusID identifies an audio bus.
type BusID alloc.ID

// Node is implemented by every addressable graph element.
type Node interface {
	NodeID() NodeID
}

// Group is a container node whose children execute in order.
type Group struct {
	id NodeID
}

// RootGroup returns the group the engine creates at startup (id 0).
func RootGroup() Group {
	return Group{id: 0}
}

// GroupFromID wraps a known node id as a Group.
func GroupFromID(id NodeID) Group {
	return Group{id: id}
}

// NodeID implements Node.
func (g Group) NodeID() NodeID {
	return g.id
}

func (g Group) String() string {
	return fmt.Sprintf("group(%d)", g.id)
}

// Synth is a leaf signal processor with indexed controls and ports.
type Synth struct {
	id NodeID
}

// SynthFromID wraps a known node id as a Synth.
func SynthFromID(id NodeID) Synth {
	return Synth{id: id}
}

// NodeID implements Node.
func (s Synth) NodeID() NodeID {
	return s.id
}

func (s Synth) String() string {
	return fmt.Sprintf("synth(%d)", s.id)
}

// AudioBus routes signals between synth ports. It is not a Node.
type AudioBus struct {
	id BusID
}

// AudioBusFromID wraps a known bus id.
func AudioBusFromID(id BusID) AudioBus {
	return AudioBus{id: id}
}

// BusID returns the bus identifier.
func (b AudioBus) BusID() BusID {
	return b.id
}

func (b AudioBus) String() string {
	return fmt.Sprintf("bus(%d)", b.id)
}
