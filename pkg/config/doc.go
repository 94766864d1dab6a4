// Package config loads the banga configuration file.
//
// A configuration file is YAML with five sections. Every field is optional;
// missing fields keep the values from Default.
//
//	engine:
//	  sample_rate: 48000
//	  block_size: 256
//	  max_num_nodes: 2048
//	backend:
//	  kind: wasm
//	  wasm_module: ./methcla.wasm
//	  call_timeout: 2s
//	telemetry:
//	  logging:
//	    level: debug
//	journal:
//	  enabled: true
//	  path: ./banga.db
//	policies:
//	  paths: [./policies]
//	  disable: [leaked-ids]
//
// Files ending in .cue are evaluated as CUE against a closed schema of the
// same sections and then exported, so they may compute values:
//
//	engine: {
//		block_size:    64 * 4
//		max_num_nodes: 2 * 1024
//	}
//
// Load validates struct tags with go-playground/validator and reports every
// rejected field in a *ValidationError. The BANGA_BACKEND, BANGA_WASM_MODULE,
// BANGA_LOG_LEVEL, BANGA_JOURNAL_PATH and BANGA_MAX_NODES environment
// variables override the file.
package config
