package policy

import (
	"fmt"
	"time"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/score"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that do not stop a score from playing.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the score.
	SeverityError Severity = "error"
)

// Policy is a Rego module with a deny rule evaluated against an Input.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Cue is the index of the offending cue, or -1.
	Cue int `json:"cue"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Cue < 0 {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s: cue %d: %s", v.Severity, v.Policy, v.Cue, v.Message)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists findings with error severity.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists the remaining findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Score  *score.Score  `json:"score"`
	Engine engine.Config `json:"engine"`
	Stats  Stats         `json:"stats"`
}

// Stats summarizes how a score uses the engine's id pools.
type Stats struct {
	// Ops is the total number of operations.
	Ops int `json:"ops"`

	// Duration is the time of the last cue in seconds.
	Duration float64 `json:"duration"`

	// PeakNodes is the largest number of node ids held at once and
	// PeakNodesCue the cue where it is first reached.
	PeakNodes    int `json:"peak_nodes"`
	PeakNodesCue int `json:"peak_nodes_cue"`

	PeakBuses    int `json:"peak_buses"`
	PeakBusesCue int `json:"peak_buses_cue"`

	// LiveNodes and LiveBuses are still held after the last cue.
	LiveNodes int `json:"live_nodes"`
	LiveBuses int `json:"live_buses"`

	// MaxCueOps is the size of the largest cue.
	MaxCueOps    int `json:"max_cue_ops"`
	MaxCueOpsCue int `json:"max_cue_ops_cue"`

	// Defs lists the synth definitions used, sorted.
	Defs []string `json:"defs"`
}
