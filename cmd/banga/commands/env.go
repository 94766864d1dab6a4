package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kaoskorobase/banga/pkg/config"
	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/journal"
	"github.com/kaoskorobase/banga/pkg/native/loopback"
	"github.com/kaoskorobase/banga/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads --config, or the defaults with environment overrides
// when no file is given.
func loadConfig() (*config.File, error) {
	var (
		cfg *config.File
		err error
	)
	if configPath == "" {
		cfg, err = config.Parse(nil)
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// env is a running engine with its telemetry and journal.
type env struct {
	cfg      *config.File
	tel      *telemetry.Telemetry
	engine   *engine.Engine
	loopback *loopback.Library
	store    *journal.SQLiteStore
	recorder *journal.Recorder

	closeLib func(context.Context) error
}

// openEnv starts telemetry, the journal when enabled, the native backend
// and the engine. On error everything started so far is shut down again.
func openEnv(ctx context.Context, cfg *config.File) (e *env, err error) {
	if cfg.Journal.Enabled {
		cfg.Telemetry.Events.Enabled = true
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	e = &env{cfg: cfg, tel: tel}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	if cfg.Journal.Enabled {
		store, err := openJournal(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		e.store = store
		e.recorder = journal.NewRecorder(store, tel.Logger)
		e.recorder.Attach(tel.Events)
	}

	lib, closeLib, err := openBackend(ctx, cfg, tel.Logger)
	if err != nil {
		return nil, err
	}
	e.closeLib = closeLib
	if lb, ok := lib.(*loopback.Library); ok {
		e.loopback = lb
	}

	eng, err := engine.Open(ctx, lib, cfg.Engine, engine.WithTelemetry(tel))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	e.engine = eng

	tel.Logger.WithFields(map[string]interface{}{
		"backend": cfg.Backend.Kind,
		"session": eng.SessionID(),
	}).Info("Engine running")
	return e, nil
}

// Close stops the engine, drains pending events into the journal and
// releases the backend.
func (e *env) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Close())
	}
	if e.closeLib != nil {
		errs = append(errs, e.closeLib(ctx))
	}
	errs = append(errs, e.tel.Shutdown(ctx))
	if e.recorder != nil && e.recorder.Failures() > 0 {
		log.Warn().Int64("failures", e.recorder.Failures()).Msg("Some bundles were not journaled")
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}

func openJournal(ctx context.Context, path string) (*journal.SQLiteStore, error) {
	store, err := journal.NewSQLiteStore(journal.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate journal %s: %w", path, err)
	}
	return store, nil
}
