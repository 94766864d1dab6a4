package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kaoskorobase/banga/pkg/score"
)

func TestAnalyze(t *testing.T) {
	s := &score.Score{Name: "pad", Cues: []score.Cue{
		{At: 0, Ops: []score.Op{
			{Kind: score.OpGroup, Name: "voices"},
			{Kind: score.OpBus, Name: "fx"},
			{Kind: score.OpSynth, Name: "a", Def: "sine", Target: "$voices"},
			{Kind: score.OpSynth, Name: "b", Def: "pad", Target: "$voices"},
		}},
		{At: 1, Ops: []score.Op{
			{Kind: score.OpSynth, Def: "sine"},
			{Kind: score.OpFree, Node: "$a"},
		}},
		{At: 2.5, Ops: []score.Op{
			{Kind: score.OpFreeAll, Node: "$voices", Children: []string{"$b"}},
			{Kind: score.OpFree, Node: "$voices"},
			{Kind: score.OpFreeBus, Bus: "$fx"},
		}},
	}}

	assert.Equal(t, Stats{
		Ops:          9,
		Duration:     2.5,
		PeakNodes:    4,
		PeakNodesCue: 1,
		PeakBuses:    1,
		PeakBusesCue: 0,
		LiveNodes:    1,
		LiveBuses:    0,
		MaxCueOps:    4,
		MaxCueOpsCue: 0,
		Defs:         []string{"pad", "sine"},
	}, Analyze(s))
}

func TestAnalyzeEmpty(t *testing.T) {
	st := Analyze(&score.Score{Name: "empty"})
	assert.Equal(t, -1, st.PeakNodesCue)
	assert.Equal(t, -1, st.PeakBusesCue)
	assert.Equal(t, -1, st.MaxCueOpsCue)
	assert.Empty(t, st.Defs)
	assert.NotNil(t, st.Defs)
}
