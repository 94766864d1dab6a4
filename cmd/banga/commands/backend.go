package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/kaoskorobase/banga/pkg/config"
	"github.com/kaoskorobase/banga/pkg/native"
	"github.com/kaoskorobase/banga/pkg/native/loopback"
	"github.com/kaoskorobase/banga/pkg/native/wasm"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

func noClose(context.Context) error { return nil }

// openBackend returns the native library selected by cfg.Backend and a
// function releasing it after the engine is closed.
func openBackend(ctx context.Context, cfg *config.File, logger *telemetry.Logger) (native.Library, func(context.Context) error, error) {
	switch cfg.Backend.Kind {
	case config.BackendLoopback:
		return loopback.New(), noClose, nil

	case config.BackendWasm:
		module, err := os.ReadFile(cfg.Backend.WasmModule)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read wasm module: %w", err)
		}
		lib, err := wasm.Load(ctx, module, &wasm.Config{
			CallTimeout:       cfg.Backend.CallTimeout,
			MemoryLimitPages:  cfg.Backend.MemoryLimitPages,
			PluginDirectories: cfg.Engine.PluginDirectories,
			Stderr:            os.Stderr,
			Logger:            logger.NewComponentLogger("wasm"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load wasm engine %s: %w", cfg.Backend.WasmModule, err)
		}
		return lib, lib.Close, nil

	case config.BackendMethcla:
		lib, err := openMethcla()
		if err != nil {
			return nil, nil, err
		}
		return lib, noClose, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
}
