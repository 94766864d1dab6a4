// Package policy checks scores against Open Policy Agent (OPA) policies
// before they are played.
//
// A policy is a Rego module with a deny rule. Its input document is an
// Input: the score, the engine configuration it will run with and the
// Stats computed by Analyze, such as the largest number of node ids the
// score holds at once. Each element of deny is either a message string or
// an object with "message" and optionally "cue" and "severity" keys.
//
// Built-in policies:
//
//   - node-capacity (error): peak node ids fit the node pool
//   - bus-capacity (error): peak bus ids fit the audio bus pool
//   - leaked-ids (warning): everything is freed by the last cue
//   - bundle-size (warning): no cue exceeds 256 operations
//
// Policies are loaded from .rego files, named after the file, or from JSON
// files holding a Policy. A "# severity: error" comment at the top of a
// .rego file makes its violations block the score:
//
//	# Only the house synths may be played.
//	# severity: error
//	package banga.policies.defs
//
//	import rego.v1
//
//	allowed := {"sine", "pad", "noise"}
//
//	deny contains msg if {
//		some def in input.stats.defs
//		not def in allowed
//		msg := sprintf("synth def %q is not installed", [def])
//	}
//
// Usage:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, s, cfg.Engine)
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    // result.Violations explains why
//	}
package policy
