package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// Backend kinds.
const (
	BackendLoopback = "loopback"
	BackendWasm     = "wasm"
	BackendMethcla  = "methcla"
)

// Environment variables read by ApplyEnv.
const (
	EnvBackend     = "BANGA_BACKEND"
	EnvWasmModule  = "BANGA_WASM_MODULE"
	EnvLogLevel    = "BANGA_LOG_LEVEL"
	EnvJournalPath = "BANGA_JOURNAL_PATH"
	EnvMaxNodes    = "BANGA_MAX_NODES"
)

// File is the on-disk configuration of banga.
type File struct {
	// Engine holds the synthesis engine startup parameters.
	Engine engine.Config `yaml:"engine"`

	// Backend selects the native engine implementation.
	Backend Backend `yaml:"backend"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `yaml:"telemetry" validate:"-"`

	// Journal configures the bundle journal.
	Journal Journal `yaml:"journal"`

	// Policies selects the score policies checked before playing.
	Policies Policies `yaml:"policies"`
}

// Backend selects and configures the native engine.
type Backend struct {
	// Kind is one of loopback, wasm or methcla.
	Kind string `yaml:"kind" validate:"required,oneof=loopback wasm methcla"`

	// WasmModule is the path of the engine compiled to wasm32-wasi.
	WasmModule string `yaml:"wasm_module" validate:"required_if=Kind wasm"`

	// CallTimeout bounds every call into the wasm guest.
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=0"`

	// MemoryLimitPages caps the guest memory in 64 KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" validate:"lte=65536"`
}

// Journal configures the SQLite journal of sent bundles.
type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// Policies adds Rego policy files and directories to the built-in policies
// and disables policies by name.
type Policies struct {
	Paths   []string `yaml:"paths,omitempty" validate:"dive,required"`
	Disable []string `yaml:"disable,omitempty" validate:"dive,required"`
}

var validate = validator.New()

// Default returns the built-in configuration: engine defaults, the loopback
// backend, default telemetry and the journal disabled.
func Default() *File {
	return &File{
		Engine: engine.DefaultConfig(),
		Backend: Backend{
			Kind:             BackendLoopback,
			CallTimeout:      5 * time.Second,
			MemoryLimitPages: 1024,
		},
		Telemetry: *telemetry.DefaultConfig(),
		Journal: Journal{
			Path: "banga.db",
		},
	}
}

// Load reads a configuration file on top of Default, applies the
// environment overrides and validates the result. Files ending in .cue are
// evaluated as CUE; everything else is YAML.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg *File
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		cfg, err = ParseCUE(data, path)
	} else {
		cfg, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration on top of Default, applies the
// environment overrides and validates the result.
func Parse(data []byte) (*File, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BANGA_* variables found by lookup.
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		f.Backend.Kind = v
	}
	if v, ok := lookup(EnvWasmModule); ok && v != "" {
		f.Backend.WasmModule = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		f.Telemetry.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvJournalPath); ok && v != "" {
		f.Journal.Path = v
		f.Journal.Enabled = true
	}
	if v, ok := lookup(EnvMaxNodes); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxNodes, err)
		}
		f.Engine.MaxNumNodes = n
	}
	return nil
}

// Validate checks struct tags on every section and the telemetry rules.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &ValidationError{Fields: fieldErrors(verrs)}
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := f.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (f *File) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// FieldError describes one rejected configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "File.Engine.SampleRate".
	Field string
	Tag   string
	Param string
}

func (e FieldError) String() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: failed %s=%s", e.Field, e.Tag, e.Param)
	}
	return fmt.Sprintf("%s: failed %s", e.Field, e.Tag)
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Has reports whether field (a suffix of the dotted path) failed.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if strings.HasSuffix(f.Field, field) {
			return true
		}
	}
	return false
}

func fieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field: fe.Namespace(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}
