package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlacementConstructors(t *testing.T) {
	group := GroupFromID(4)
	synth := SynthFromID(9)

	tests := []struct {
		name     string
		got      Placement
		target   NodeID
		relation Relation
	}{
		{name: "head of group", got: HeadOf(group), target: 4, relation: HeadOfGroup},
		{name: "tail of group", got: TailOf(group), target: 4, relation: TailOfGroup},
		{name: "before synth", got: Before(synth), target: 9, relation: BeforeNode},
		{name: "after synth", got: After(synth), target: 9, relation: AfterNode},
		{name: "before group", got: Before(group), target: 4, relation: BeforeNode},
		{name: "zero value", got: Placement{}, target: 0, relation: HeadOfGroup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.target, tt.got.Target())
			assert.Equal(t, tt.relation, tt.got.Relation())
		})
	}
}

func TestBeforeAndAfterAreDistinct(t *testing.T) {
	node := SynthFromID(3)
	assert.NotEqual(t, Before(node).Relation(), After(node).Relation())
	assert.Equal(t, Before(node).Target(), After(node).Target())
}

func TestRelationRoundTrip(t *testing.T) {
	for _, r := range []Relation{HeadOfGroup, TailOfGroup, BeforeNode, AfterNode} {
		parsed, err := ParseRelation(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}

	_, err := ParseRelation("beside")
	assert.Error(t, err)
}

func TestFlagParsing(t *testing.T) {
	bus, err := ParseBusMappingFlags("external | replace")
	require.NoError(t, err)
	assert.Equal(t, BusMappingExternal|BusMappingReplace, bus)
	assert.Equal(t, "external|replace", bus.String())

	bus, err = ParseBusMappingFlags("")
	require.NoError(t, err)
	assert.Equal(t, BusMappingInternal, bus)

	done, err := ParseNodeDoneFlags("free_self|free_parent")
	require.NoError(t, err)
	assert.Equal(t, NodeDoneFreeSelf|NodeDoneFreeParent, done)

	_, err = ParseNodeDoneFlags("explode")
	var unknown *UnknownFlagError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "explode", unknown.Name)
}

func TestRootGroup(t *testing.T) {
	assert.Equal(t, NodeID(0), RootGroup().NodeID())
	assert.Equal(t, "group(0)", RootGroup().String())
}
