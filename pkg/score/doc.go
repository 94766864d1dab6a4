// Package score describes graph activity over time and plays it against an
// engine.
//
// A Score is a list of cues. Each cue has a time offset in seconds and an
// ordered list of operations that become one bundle. Operations name what
// they create and refer to it later as "$name":
//
//	name: pad
//	cues:
//	  - at: 0
//	    ops:
//	      - {op: group, name: voices}
//	      - {op: synth, name: lead, def: sine, target: $voices, controls: [440]}
//	      - {op: activate, node: $lead}
//	  - at: 2
//	    ops:
//	      - {op: free, node: $lead}
//
// Scores are written in YAML or produced by a Starlark script (see
// EvalStarlark). A Player resolves names to engine ids and sends one
// request per cue; a Watcher reloads a score file whenever it changes.
package score
