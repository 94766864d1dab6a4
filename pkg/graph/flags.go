package graph

import "strings"

// BusMappingFlags select how a synth port is connected to a bus.
type BusMappingFlags int32

const (
	// BusMappingInternal maps the port to an internal audio bus.
	BusMappingInternal BusMappingFlags = 0x00
	// BusMappingExternal maps the port to a hardware channel.
	BusMappingExternal BusMappingFlags = 0x01
	// BusMappingFeedback reads the bus value of the previous block.
	BusMappingFeedback BusMappingFlags = 0x02
	// BusMappingReplace overwrites the bus instead of accumulating.
	BusMappingReplace BusMappingFlags = 0x04
)

func (f BusMappingFlags) String() string {
	if f == BusMappingInternal {
		return "internal"
	}
	return joinFlags(int32(f), []flagName{
		{int32(BusMappingExternal), "external"},
		{int32(BusMappingFeedback), "feedback"},
		{int32(BusMappingReplace), "replace"},
	})
}

// NodeDoneFlags select the action taken when a synth signals completion.
type NodeDoneFlags int32

const (
	NodeDoneDoNothing       NodeDoneFlags = 0x00
	NodeDoneFreeSelf        NodeDoneFlags = 0x01
	NodeDoneFreePreceding   NodeDoneFlags = 0x02
	NodeDoneFreeFollowing   NodeDoneFlags = 0x04
	NodeDoneFreeAllSiblings NodeDoneFlags = 0x08
	NodeDoneFreeParent      NodeDoneFlags = 0x10
)

func (f NodeDoneFlags) String() string {
	if f == NodeDoneDoNothing {
		return "nothing"
	}
	return joinFlags(int32(f), []flagName{
		{int32(NodeDoneFreeSelf), "free_self"},
		{int32(NodeDoneFreePreceding), "free_preceding"},
		{int32(NodeDoneFreeFollowing), "free_following"},
		{int32(NodeDoneFreeAllSiblings), "free_all_siblings"},
		{int32(NodeDoneFreeParent), "free_parent"},
	})
}

// ParseBusMappingFlags parses a "|"-separated list of bus flag names.
func ParseBusMappingFlags(s string) (BusMappingFlags, error) {
	v, err := parseFlags(s, "internal", map[string]int32{
		"external": int32(BusMappingExternal),
		"feedback": int32(BusMappingFeedback),
		"replace":  int32(BusMappingReplace),
	})
	return BusMappingFlags(v), err
}

// ParseNodeDoneFlags parses a "|"-separated list of done flag names.
func ParseNodeDoneFlags(s string) (NodeDoneFlags, error) {
	v, err := parseFlags(s, "nothing", map[string]int32{
		"free_self":         int32(NodeDoneFreeSelf),
		"free_preceding":    int32(NodeDoneFreePreceding),
		"free_following":    int32(NodeDoneFreeFollowing),
		"free_all_siblings": int32(NodeDoneFreeAllSiblings),
		"free_parent":       int32(NodeDoneFreeParent),
	})
	return NodeDoneFlags(v), err
}

type flagName struct {
	bit  int32
	name string
}

func joinFlags(v int32, names []flagName) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
			v &^= n.bit
		}
	}
	if v != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

func parseFlags(s, zero string, names map[string]int32) (int32, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == zero {
		return 0, nil
	}
	var v int32
	for _, part := range strings.Split(s, "|") {
		bit, ok := names[strings.TrimSpace(part)]
		if !ok {
			return 0, &UnknownFlagError{Name: strings.TrimSpace(part)}
		}
		v |= bit
	}
	return v, nil
}

// UnknownFlagError reports a flag name that does not exist.
type UnknownFlagError struct {
	Name string
}

func (e *UnknownFlagError) Error() string {
	return "unknown flag " + e.Name
}
