package graph

import "fmt"

// Relation is where a new node goes relative to its placement target.
// Values match the engine's node placement enumeration.
type Relation int32

const (
	// HeadOfGroup inserts the node as the first child of the target group.
	HeadOfGroup Relation = 0
	// TailOfGroup inserts the node as the last child of the target group.
	TailOfGroup Relation = 1
	// BeforeNode inserts the node immediately before the target node.
	BeforeNode Relation = 2
	// AfterNode inserts the node immediately after the target node.
	AfterNode Relation = 3
)

var relationNames = map[Relation]string{
	HeadOfGroup: "head",
	TailOfGroup: "tail",
	BeforeNode:  "before",
	AfterNode:   "after",
}

func (r Relation) String() string {
	if name, ok := relationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Relation(%d)", int32(r))
}

// ParseRelation parses the names produced by Relation.String.
func ParseRelation(s string) (Relation, error) {
	for r, name := range relationNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown placement relation %q", s)
}

// Placement describes where a new node is inserted. Build one with HeadOf,
// TailOf, Before or After; the zero value is the head of the root group.
type Placement struct {
	target   NodeID
	relation Relation
}

// HeadOf places a node at the head of group.
func HeadOf(group Group) Placement {
	return Placement{target: group.NodeID(), relation: HeadOfGroup}
}

// TailOf places a node at the tail of group.
func TailOf(group Group) Placement {
	return Placement{target: group.NodeID(), relation: TailOfGroup}
}

// Before places a node immediately before node.
func Before(node Node) Placement {
	return Placement{target: node.NodeID(), relation: BeforeNode}
}

// After places a node immediately after node.
func After(node Node) Placement {
	return Placement{target: node.NodeID(), relation: AfterNode}
}

// Target returns the node the placement is relative to.
func (p Placement) Target() NodeID {
	return p.target
}

// Relation returns the placement relation.
func (p Placement) Relation() Relation {
	return p.relation
}

func (p Placement) String() string {
	return fmt.Sprintf("%s %d", p.relation, p.target)
}
