package policy

import (
	"sort"

	"github.com/kaoskorobase/banga/pkg/score"
)

// Analyze walks s in cue order and counts the ids it holds. A group or
// synth takes a node id until a free or free_all names it; a bus takes a
// bus id until free_bus. Counts are taken after every op, so a cue that
// allocates before it frees is charged for both.
func Analyze(s *score.Score) Stats {
	st := Stats{PeakNodesCue: -1, PeakBusesCue: -1, MaxCueOpsCue: -1, Defs: []string{}}

	var (
		nodes = make(map[string]bool)
		buses = make(map[string]bool)
		defs  = make(map[string]bool)

		// unnamed groups, synths and buses can never be freed by name
		anonNodes, anonBuses int
	)
	release := func(live map[string]bool, ref string) {
		if name, err := score.ParseRef(ref); err == nil && name != "" {
			delete(live, name)
		}
	}

	for ci, cue := range s.Cues {
		st.Ops += len(cue.Ops)
		st.Duration = cue.At
		if len(cue.Ops) > st.MaxCueOps {
			st.MaxCueOps = len(cue.Ops)
			st.MaxCueOpsCue = ci
		}

		for _, op := range cue.Ops {
			switch op.Kind {
			case score.OpGroup, score.OpSynth:
				if op.Kind == score.OpSynth {
					defs[op.Def] = true
				}
				if op.Name != "" {
					nodes[op.Name] = true
				} else {
					anonNodes++
				}
			case score.OpFree:
				release(nodes, op.Node)
			case score.OpFreeAll:
				for _, c := range op.Children {
					release(nodes, c)
				}
			case score.OpBus:
				if op.Name != "" {
					buses[op.Name] = true
				} else {
					anonBuses++
				}
			case score.OpFreeBus:
				release(buses, op.Bus)
			}

			if n := len(nodes) + anonNodes; n > st.PeakNodes {
				st.PeakNodes = n
				st.PeakNodesCue = ci
			}
			if n := len(buses) + anonBuses; n > st.PeakBuses {
				st.PeakBuses = n
				st.PeakBusesCue = ci
			}
		}
	}

	st.LiveNodes = len(nodes) + anonNodes
	st.LiveBuses = len(buses) + anonBuses
	for d := range defs {
		st.Defs = append(st.Defs, d)
	}
	sort.Strings(st.Defs)
	return st
}
