package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kaoskorobase/banga/pkg/graph"
)

// OpKind names a graph operation in a score.
type OpKind string

// Operations understood by the Player.
const (
	OpGroup     OpKind = "group"
	OpSynth     OpKind = "synth"
	OpActivate  OpKind = "activate"
	OpMapInput  OpKind = "map_input"
	OpMapOutput OpKind = "map_output"
	OpSet       OpKind = "set"
	OpFree      OpKind = "free"
	OpFreeAll   OpKind = "free_all"
	OpWhenDone  OpKind = "when_done"
	OpBus       OpKind = "bus"
	OpFreeBus   OpKind = "free_bus"
)

// Root is the reference to the engine's root group.
const Root = "root"

// Score is a list of cues played against one engine.
type Score struct {
	Name string `yaml:"name" json:"name"`
	Cues []Cue  `yaml:"cues" json:"cues"`
}

// Cue is a set of operations sent as one bundle, At seconds after the
// score's start time.
type Cue struct {
	At  float64 `yaml:"at" json:"at"`
	Ops []Op    `yaml:"ops" json:"ops"`
}

// Op is one graph operation. Which fields are read depends on Kind.
// References to nodes and buses are written "$name"; the bare word "root"
// (or an empty Target) is the root group.
type Op struct {
	Kind OpKind `yaml:"op" json:"op"`

	// Name binds the created group, synth or bus for later references.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Def is the synth definition.
	Def string `yaml:"def,omitempty" json:"def,omitempty"`

	// Node references the operand node.
	Node string `yaml:"node,omitempty" json:"node,omitempty"`

	// Target and Relation place a new group or synth.
	Target   string `yaml:"target,omitempty" json:"target,omitempty"`
	Relation string `yaml:"relation,omitempty" json:"relation,omitempty"`

	Controls []float32 `yaml:"controls,omitempty" json:"controls,omitempty"`
	Index    int       `yaml:"index,omitempty" json:"index,omitempty"`
	Value    float32   `yaml:"value,omitempty" json:"value,omitempty"`

	// Bus references an audio bus for map_input, map_output and free_bus.
	Bus string `yaml:"bus,omitempty" json:"bus,omitempty"`

	// Flags is a "|"-separated list of bus mapping or done flag names.
	Flags string `yaml:"flags,omitempty" json:"flags,omitempty"`

	// Children are reclaimed by free_all along with the group's message.
	Children []string `yaml:"children,omitempty" json:"children,omitempty"`
}

// Error locates a problem in a score.
type Error struct {
	Score string
	Cue   int
	// Op is -1 for problems with the cue itself.
	Op  int
	Msg string
	// Err is the engine error behind a failed op, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Op < 0 {
		return fmt.Sprintf("score %q: cue %d: %s", e.Score, e.Cue, e.Msg)
	}
	return fmt.Sprintf("score %q: cue %d: op %d: %s", e.Score, e.Cue, e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// kind of a bound name
type symbol int

const (
	symGroup symbol = iota + 1
	symSynth
	symBus
)

func (s symbol) String() string {
	switch s {
	case symGroup:
		return "group"
	case symSynth:
		return "synth"
	case symBus:
		return "bus"
	}
	return "unbound"
}

// ParseRef returns the bound name of a "$name" reference. Root and the
// empty string resolve to "".
func ParseRef(ref string) (string, error) {
	switch {
	case ref == "" || ref == Root:
		return "", nil
	case strings.HasPrefix(ref, "$") && len(ref) > 1:
		return ref[1:], nil
	}
	return "", fmt.Errorf("invalid reference %q: want $name or %s", ref, Root)
}

// Ref formats a reference to name.
func Ref(name string) string {
	return "$" + name
}

// Validate checks every op in cue order: references must be bound by an
// earlier op and of the right kind, flags and relations must parse and
// cue times must not decrease.
func (s *Score) Validate() error {
	names := make(map[string]symbol)
	last := 0.0
	for ci, cue := range s.Cues {
		if cue.At < 0 {
			return &Error{Score: s.Name, Cue: ci, Op: -1, Msg: fmt.Sprintf("negative time %g", cue.At)}
		}
		if cue.At < last {
			return &Error{Score: s.Name, Cue: ci, Op: -1, Msg: fmt.Sprintf("time %g is before previous cue at %g", cue.At, last)}
		}
		last = cue.At
		for oi, op := range cue.Ops {
			if err := checkOp(names, op); err != nil {
				return &Error{Score: s.Name, Cue: ci, Op: oi, Msg: err.Error()}
			}
		}
	}
	return nil
}

// Len returns the total number of operations.
func (s *Score) Len() int {
	n := 0
	for _, c := range s.Cues {
		n += len(c.Ops)
	}
	return n
}

// Sort orders cues by time, keeping the order of cues with equal times.
func (s *Score) Sort() {
	sort.SliceStable(s.Cues, func(i, j int) bool { return s.Cues[i].At < s.Cues[j].At })
}

func checkOp(names map[string]symbol, op Op) error {
	lookup := func(ref string, want ...symbol) error {
		name, err := ParseRef(ref)
		if err != nil {
			return err
		}
		if name == "" {
			for _, w := range want {
				if w == symGroup {
					return nil
				}
			}
			return fmt.Errorf("%s cannot refer to the root group", op.Kind)
		}
		got, ok := names[name]
		if !ok {
			return fmt.Errorf("unbound reference %q", ref)
		}
		for _, w := range want {
			if got == w {
				return nil
			}
		}
		return fmt.Errorf("%q is a %s", ref, got)
	}
	bind := func(kind symbol) error {
		if op.Name == "" {
			return nil
		}
		if strings.ContainsAny(op.Name, "$ ") || op.Name == Root {
			return fmt.Errorf("invalid name %q", op.Name)
		}
		if got, ok := names[op.Name]; ok {
			return fmt.Errorf("name %q already bound to a live %s", op.Name, got)
		}
		names[op.Name] = kind
		return nil
	}
	placement := func() error {
		rel, err := parseRelation(op.Relation)
		if err != nil {
			return err
		}
		if rel == graph.HeadOfGroup || rel == graph.TailOfGroup {
			return lookup(op.Target, symGroup)
		}
		if op.Target == "" || op.Target == Root {
			return fmt.Errorf("relation %s needs a target node", rel)
		}
		return lookup(op.Target, symGroup, symSynth)
	}
	unbind := func(ref string) {
		if name, err := ParseRef(ref); err == nil {
			delete(names, name)
		}
	}

	switch op.Kind {
	case OpGroup:
		if err := placement(); err != nil {
			return err
		}
		return bind(symGroup)
	case OpSynth:
		if op.Def == "" {
			return fmt.Errorf("synth needs a def")
		}
		if err := placement(); err != nil {
			return err
		}
		return bind(symSynth)
	case OpActivate:
		return lookup(op.Node, symSynth)
	case OpMapInput, OpMapOutput:
		if err := lookup(op.Node, symSynth); err != nil {
			return err
		}
		if err := lookup(op.Bus, symBus); err != nil {
			return err
		}
		_, err := graph.ParseBusMappingFlags(op.Flags)
		return err
	case OpSet:
		return lookup(op.Node, symGroup, symSynth)
	case OpFree:
		if op.Node == "" || op.Node == Root {
			return fmt.Errorf("free cannot refer to the root group")
		}
		if err := lookup(op.Node, symGroup, symSynth); err != nil {
			return err
		}
		unbind(op.Node)
		return nil
	case OpFreeAll:
		if err := lookup(op.Node, symGroup); err != nil {
			return err
		}
		for _, c := range op.Children {
			if err := lookup(c, symGroup, symSynth); err != nil {
				return err
			}
		}
		for _, c := range op.Children {
			unbind(c)
		}
		return nil
	case OpWhenDone:
		if err := lookup(op.Node, symSynth); err != nil {
			return err
		}
		_, err := graph.ParseNodeDoneFlags(op.Flags)
		return err
	case OpBus:
		return bind(symBus)
	case OpFreeBus:
		if err := lookup(op.Bus, symBus); err != nil {
			return err
		}
		unbind(op.Bus)
		return nil
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

func parseRelation(s string) (graph.Relation, error) {
	if s == "" {
		return graph.HeadOfGroup, nil
	}
	return graph.ParseRelation(s)
}
