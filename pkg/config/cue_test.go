package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCUE(t *testing.T) {
	for _, k := range []string{EnvBackend, EnvWasmModule, EnvLogLevel, EnvJournalPath, EnvMaxNodes} {
		t.Setenv(k, "")
	}

	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, cfg *File)
		wantErr string
	}{
		{
			name: "computed values",
			input: `
_blocks: 4
engine: {
	block_size:    64 * _blocks
	max_num_nodes: 2 * 512
}
backend: {
	kind:         "wasm"
	wasm_module:  "./methcla.wasm"
	call_timeout: "2s"
}
`,
			check: func(t *testing.T, cfg *File) {
				assert.Equal(t, 256, cfg.Engine.BlockSize)
				assert.Equal(t, 1024, cfg.Engine.MaxNumNodes)
				assert.Equal(t, 44100, cfg.Engine.SampleRate)
				assert.Equal(t, "wasm", cfg.Backend.Kind)
				assert.Equal(t, 2*time.Second, cfg.Backend.CallTimeout)
			},
		},
		{
			name:  "policies",
			input: `policies: disable: ["leaked-ids"]`,
			check: func(t *testing.T, cfg *File) {
				assert.Equal(t, []string{"leaked-ids"}, cfg.Policies.Disable)
			},
		},
		{
			name:    "unknown section",
			input:   `mixer: channels: 2`,
			wantErr: "not allowed",
		},
		{
			name:    "unknown backend",
			input:   `backend: kind: "jack"`,
			wantErr: "backend.kind",
		},
		{
			name:    "bad duration",
			input:   `backend: call_timeout: "soon"`,
			wantErr: "call_timeout",
		},
		{
			name:    "syntax error",
			input:   `engine: {`,
			wantErr: "failed to compile config",
		},
		{
			name:    "validated after export",
			input:   `backend: kind: "wasm"`,
			wantErr: "WasmModule: failed required_if",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseCUE([]byte(tt.input), "banga.cue")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadCUEFile(t *testing.T) {
	t.Setenv(EnvBackend, "")
	t.Setenv(EnvMaxNodes, "")

	path := filepath.Join(t.TempDir(), "banga.cue")
	require.NoError(t, os.WriteFile(path, []byte("engine: block_size: 32\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Engine.BlockSize)
}
