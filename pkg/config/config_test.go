package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendLoopback, cfg.Backend.Kind)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, 44100, cfg.Engine.SampleRate)
}

func TestParse(t *testing.T) {
	for _, k := range []string{EnvBackend, EnvWasmModule, EnvLogLevel, EnvJournalPath, EnvMaxNodes} {
		t.Setenv(k, "")
	}

	tests := []struct {
		name    string
		input   string
		wantErr string
		check   func(*testing.T, *File)
	}{
		{
			name:  "empty document keeps defaults",
			input: "",
			check: func(t *testing.T, f *File) {
				assert.Equal(t, Default(), f)
			},
		},
		{
			name: "overrides merge onto defaults",
			input: `
engine:
  sample_rate: 48000
  plugin_directories: [/usr/lib/methcla]
backend:
  kind: wasm
  wasm_module: engine.wasm
  call_timeout: 250ms
journal:
  enabled: true
`,
			check: func(t *testing.T, f *File) {
				assert.Equal(t, 48000, f.Engine.SampleRate)
				assert.Equal(t, 512, f.Engine.BlockSize)
				assert.Equal(t, []string{"/usr/lib/methcla"}, f.Engine.PluginDirectories)
				assert.Equal(t, BackendWasm, f.Backend.Kind)
				assert.Equal(t, 250*time.Millisecond, f.Backend.CallTimeout)
				assert.True(t, f.Journal.Enabled)
				assert.Equal(t, "banga.db", f.Journal.Path)
			},
		},
		{
			name:  "policy paths",
			input: "policies:\n  paths: [./policies]\n  disable: [leaked-ids]\n",
			check: func(t *testing.T, f *File) {
				assert.Equal(t, []string{"./policies"}, f.Policies.Paths)
				assert.Equal(t, []string{"leaked-ids"}, f.Policies.Disable)
			},
		},
		{
			name:    "empty policy path",
			input:   "policies:\n  paths: [\"\"]\n",
			wantErr: "Policies.Paths[0]: failed required",
		},
		{
			name:    "unknown field",
			input:   "engine:\n  sample_rat: 1\n",
			wantErr: "field sample_rat not found",
		},
		{
			name:    "wasm needs a module",
			input:   "backend:\n  kind: wasm\n",
			wantErr: "WasmModule: failed required_if",
		},
		{
			name:    "unknown backend",
			input:   "backend:\n  kind: jack\n",
			wantErr: "Kind: failed oneof=loopback wasm methcla",
		},
		{
			name:    "engine fields are validated",
			input:   "engine:\n  max_num_nodes: 1\n",
			wantErr: "MaxNumNodes: failed gt=1",
		},
		{
			name:    "telemetry rules apply",
			input:   "telemetry:\n  logging:\n    level: loud\n",
			wantErr: "invalid log level: loud",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.input))
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

func TestValidationErrorListsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Engine.SampleRate = 0
	cfg.Backend.Kind = ""

	err := cfg.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
	assert.True(t, verr.Has("Engine.SampleRate"))
	assert.True(t, verr.Has("Backend.Kind"))
	assert.False(t, verr.Has("Journal.Path"))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBackend:     "methcla",
		EnvLogLevel:    "DEBUG",
		EnvJournalPath: "/tmp/j.db",
		EnvMaxNodes:    "64",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, BackendMethcla, cfg.Backend.Kind)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/j.db", cfg.Journal.Path)
	assert.Equal(t, 64, cfg.Engine.MaxNumNodes)

	env[EnvMaxNodes] = "many"
	assert.ErrorContains(t, Default().ApplyEnv(lookup), "invalid BANGA_MAX_NODES")

	unchanged := Default()
	require.NoError(t, unchanged.ApplyEnv(noEnv))
	assert.Equal(t, Default(), unchanged)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv(EnvBackend, "")
	t.Setenv(EnvMaxNodes, "")

	path := filepath.Join(t.TempDir(), "banga.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  block_size: 64\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Engine.BlockSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, k := range []string{EnvBackend, EnvWasmModule, EnvLogLevel, EnvJournalPath, EnvMaxNodes} {
		t.Setenv(k, "")
	}

	out, err := Default().Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "sample_rate: 44100")

	cfg, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
	assert.Equal(t, Default().Backend, cfg.Backend)
}
