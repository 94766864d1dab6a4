package wasm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/kaoskorobase/banga/pkg/native"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// Config contains configuration for the WASM host.
type Config struct {
	// CallTimeout bounds every call into the guest.
	CallTimeout time.Duration

	// MemoryLimitPages is the maximum guest memory in pages (64KB each).
	// Default is 1024 pages (64MB).
	MemoryLimitPages uint32

	// PluginDirectories are mounted read-only at the same path in the guest.
	PluginDirectories []string

	// Stdout and Stderr receive the guest's output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives env.methcla_log calls.
	Logger *telemetry.Logger
}

// Library is a native.Library backed by a wasm guest. All calls into the
// guest are serialized.
type Library struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	bridge  *bridge
	timeout time.Duration
	closed  bool
}

var _ native.Library = (*Library)(nil)

// Load compiles and instantiates the engine module.
func Load(ctx context.Context, wasmModule []byte, cfg *Config) (*Library, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	pages := cfg.MemoryLimitPages
	if pages == 0 {
		pages = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	if _, err := registerHostFunctions(runtime.NewHostModuleBuilder("env"), logger).Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	fsConfig := wazero.NewFSConfig()
	for _, dir := range cfg.PluginDirectories {
		fsConfig = fsConfig.WithReadOnlyDirMount(dir, dir)
	}
	moduleConfig := wazero.NewModuleConfig().
		WithName("methcla").
		WithFSConfig(fsConfig).
		WithSysWalltime().
		WithSysNanotime().
		// The engine is a library: instantiate without running _start.
		WithStartFunctions("_initialize")
	if cfg.Stdout != nil {
		moduleConfig = moduleConfig.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		moduleConfig = moduleConfig.WithStderr(cfg.Stderr)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b, err := newBridge(callCtx, module)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create WASM bridge: %w", err)
	}

	return &Library{
		runtime: runtime,
		module:  module,
		bridge:  b,
		timeout: timeout,
	}, nil
}

// registerHostFunctions registers the functions the guest may import.
func registerHostFunctions(builder wazero.HostModuleBuilder, logger *telemetry.Logger) wazero.HostModuleBuilder {
	logger = logger.NewComponentLogger("wasm")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, level, ptr, n uint32) {
			mem := mod.ExportedMemory("memory")
			if mem == nil {
				logger.Warn("guest log message from a module without exported memory")
				return
			}
			msg, ok := mem.Read(ptr, n)
			if !ok {
				logger.Warnf("guest log message out of bounds (ptr=%d len=%d)", ptr, n)
				return
			}
			switch level {
			case 0:
				logger.Debug(string(msg))
			case 1:
				logger.Info(string(msg))
			case 2:
				logger.Warn(string(msg))
			default:
				logger.Error(string(msg))
			}
		}).
		Export("methcla_log")
	return builder
}

// call runs fn against the bridge under the library lock with a timeout.
func (l *Library) call(fn func(ctx context.Context, b *bridge) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return native.Check(native.LogicError, "wasm library closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	return fn(ctx, l.bridge)
}

// Close releases the guest module and the runtime.
func (l *Library) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.module.Close(ctx); err != nil {
		return fmt.Errorf("failed to close module: %w", err)
	}
	if err := l.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close runtime: %w", err)
	}
	return nil
}
