package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRego = `# Test policy for validation
package test.policy

import rego.v1

deny contains msg if {
	input.score.name == "invalid"
	msg := "invalid score name"
}`

func TestLoadFromFileRego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	path := filepath.Join(t.TempDir(), "test-policy.rego")
	require.NoError(t, os.WriteFile(path, []byte(testRego), 0o644))

	policy, err := loader.loadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test-policy", policy.Name)
	assert.Equal(t, testRego, policy.Rego)
	assert.Equal(t, "Test policy for validation", policy.Description)
	assert.Equal(t, SeverityWarning, policy.Severity)
	assert.Equal(t, path, policy.Source)
	assert.True(t, policy.Enabled)
}

func TestLoadFromFileJSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	data, err := json.Marshal(Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        testRego,
		Enabled:     true,
		Tags:        []string{"test"},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test-policy.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := loader.loadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test-json-policy", loaded.Name)
	assert.Equal(t, SeverityWarning, loaded.Severity, "severity defaults to warning")
	assert.Equal(t, []string{"test"}, loaded.Tags)
}

func TestLoadFromFileErrors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "invalid JSON", file: "bad.json", content: "{"},
		{name: "JSON without name", file: "anon.json", content: `{"rego": "package x"}`},
		{name: "unsupported type", file: "policy.txt", content: "deny"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := loader.loadFromFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.rego"), []byte(testRego), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "two.rego"), []byte(testRego), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# policies"), 0o644))
	// Broken files are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	require.NoError(t, err)

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"one", "two"}, names)
}

func TestLoadFromPathsMissing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestCommentValue(t *testing.T) {
	v, ok := commentValue("# Blocks things.\n# severity: error\npackage x", "severity")
	assert.True(t, ok)
	assert.Equal(t, "error", v)

	_, ok = commentValue("package x\n", "severity")
	assert.False(t, ok)
}
