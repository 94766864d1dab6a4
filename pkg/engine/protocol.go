package engine

// OSC addresses understood by the engine's command intake.
const (
	AddressGroupNew       = "/group/new"
	AddressGroupFreeAll   = "/group/freeAll"
	AddressSynthNew       = "/synth/new"
	AddressSynthActivate  = "/synth/activate"
	AddressSynthMapInput  = "/synth/map/input"
	AddressSynthMapOutput = "/synth/map/output"
	AddressNodeSet        = "/node/set"
	AddressNodeFree       = "/node/free"
	AddressSynthDoneFlags = "/synth/property/doneFlags/set"
)
