package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		nodeCapacityPolicy(),
		busCapacityPolicy(),
		leakedIDsPolicy(),
		bundleSizePolicy(),
	}
}

func nodeCapacityPolicy() Policy {
	return Policy{
		Name:        "node-capacity",
		Description: "The score never holds more node ids than the engine's node pool provides",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"capacity"},
		Rego: `package banga.policies.node_capacity

import rego.v1

# Id 0 is the root group.
deny contains violation if {
	limit := input.engine.max_num_nodes - 1
	input.stats.peak_nodes > limit
	violation := {
		"message": sprintf("score holds %d nodes at once, the engine has ids for %d", [input.stats.peak_nodes, limit]),
		"cue": input.stats.peak_nodes_cue,
	}
}`,
	}
}

func busCapacityPolicy() Policy {
	return Policy{
		Name:        "bus-capacity",
		Description: "The score never holds more audio bus ids than the engine provides",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"capacity"},
		Rego: `package banga.policies.bus_capacity

import rego.v1

deny contains violation if {
	limit := input.engine.max_num_audio_buses
	input.stats.peak_buses > limit
	violation := {
		"message": sprintf("score holds %d audio buses at once, the engine has ids for %d", [input.stats.peak_buses, limit]),
		"cue": input.stats.peak_buses_cue,
	}
}`,
	}
}

func leakedIDsPolicy() Policy {
	return Policy{
		Name:        "leaked-ids",
		Description: "Everything the score creates is freed by its last cue",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		Rego: `package banga.policies.leaked_ids

import rego.v1

deny contains violation if {
	input.stats.live_nodes > 0
	violation := sprintf("%d nodes are still allocated after the last cue", [input.stats.live_nodes])
}

deny contains violation if {
	input.stats.live_buses > 0
	violation := sprintf("%d audio buses are still allocated after the last cue", [input.stats.live_buses])
}`,
	}
}

func bundleSizePolicy() Policy {
	return Policy{
		Name:        "bundle-size",
		Description: "No cue is larger than 256 operations",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"realtime"},
		Rego: `package banga.policies.bundle_size

import rego.v1

deny contains violation if {
	input.stats.max_cue_ops > 256
	violation := {
		"message": sprintf("cue has %d operations; large bundles take long to apply in the audio thread", [input.stats.max_cue_ops]),
		"cue": input.stats.max_cue_ops_cue,
	}
}`,
	}
}
