package score

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a score from path. Files ending in .star or .bzl are run as
// Starlark scripts with params; everything else is parsed as YAML.
func Load(ctx context.Context, path string, params map[string]interface{}) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read score: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".star", ".bzl":
		return EvalStarlark(ctx, path, data, params, 0)
	default:
		return ParseYAML(data, nameFromPath(path))
	}
}

// ParseYAML decodes and validates a YAML score. name is used when the
// document has no name of its own.
func ParseYAML(data []byte, name string) (*Score, error) {
	var s Score
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse score %s: %w", name, err)
	}
	if s.Name == "" {
		s.Name = name
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeYAML renders s in the format ParseYAML reads.
func (s *Score) EncodeYAML() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score: %w", err)
	}
	return out, nil
}

func nameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
