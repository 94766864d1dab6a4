package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// fileSchema closes a CUE configuration document over the known sections
// and mirrors the validate tags, so mistakes are reported with CUE
// positions. The telemetry section is left open and checked after decoding.
const fileSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"

#File: {
	engine?: {
		sample_rate?:          int & >0
		block_size?:           int & >0
		realtime_memory_size?: int & >0
		max_num_nodes?:        int & >1 & <=1048576
		max_num_audio_buses?:  int & >=0 & <=1048576
		num_hardware_inputs?:  int & >=0
		num_hardware_outputs?: int & >=0
		plugin_directories?: [...string]
	}
	backend?: {
		kind?:               "loopback" | "wasm" | "methcla"
		wasm_module?:        string
		call_timeout?:       #Duration
		memory_limit_pages?: int & >=0 & <=65536
	}
	telemetry?: {...}
	journal?: {
		enabled?: bool
		path?:    string
	}
	policies?: {
		paths?: [...string]
		disable?: [...string]
	}
}
`

// ParseCUE evaluates a CUE configuration document against the schema and
// then handles the result like Parse: defaults, environment overrides and
// validation. filename is used in error positions.
func ParseCUE(data []byte, filename string) (*File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(fileSchema, cue.Filename("banga-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError("failed to compile schema", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, cueError("failed to compile config", err)
	}

	v := schema.LookupPath(cue.ParsePath("#File")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError("invalid configuration", err)
	}

	out, err := cueyaml.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to export config: %w", err)
	}
	return Parse(out)
}

func cueError(msg string, err error) error {
	errs := cueerrors.Errors(err)
	details := make([]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return fmt.Errorf("%s: %s", msg, strings.Join(details, "; "))
}
