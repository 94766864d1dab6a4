package score

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kaoskorobase/banga/pkg/telemetry"
)

// DefaultDebounce is how long the Watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a score file when it changes.
type Watcher struct {
	path     string
	params   map[string]interface{}
	debounce time.Duration
	logger   *telemetry.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle time after the last change.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithParams sets the params passed to Starlark scores.
func WithParams(params map[string]interface{}) WatcherOption {
	return func(w *Watcher) { w.params = params }
}

// WithWatchLogger sets the watcher's logger.
func WithWatchLogger(l *telemetry.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l.NewComponentLogger("score-watcher")
		}
	}
}

// NewWatcher returns a watcher for the score at path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	w := &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		logger:   telemetry.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching in the background. Every time the file is written
// or replaced, the score is loaded again and passed to reload once writes
// have settled. Load and reload errors are logged; watching goes on. The
// watch stops when ctx is done or Close is called.
func (w *Watcher) Watch(ctx context.Context, reload func(context.Context, *Score) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, reload)

	w.logger.WithField("path", w.path).Info("Started watching score")
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, reload func(context.Context, *Score) error) {
	var (
		timer    *time.Timer
		reloadMu sync.Mutex
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Score file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				reloadMu.Lock()
				defer reloadMu.Unlock()
				if err := w.trigger(ctx, reload); err != nil {
					w.logger.WithError(err).Error("Failed to reload score")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) trigger(ctx context.Context, reload func(context.Context, *Score) error) error {
	s, err := Load(ctx, w.path, w.params)
	if err != nil {
		return err
	}
	if err := reload(ctx, s); err != nil {
		return fmt.Errorf("failed to apply reloaded score: %w", err)
	}
	w.logger.WithField("score", s.Name).Infof("Score reloaded with %d cues", len(s.Cues))
	return nil
}
