package bot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dalnet/ircengine/internal/config"
)

// Watcher reloads the config file whenever it changes on disk.
type Watcher struct {
	path string
	w    *fsnotify.Watcher
	log  *zap.Logger
}

// NewWatcher starts watching path. The parent directory is watched so
// editors that replace the file by rename are noticed too.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{path: abs, w: w, log: log.Named("watch")}, nil
}

// Run calls apply with every successfully parsed version of the file
// until ctx is cancelled. Files that fail to load are logged and skipped.
func (w *Watcher) Run(ctx context.Context, apply func(*config.Config) error) error {
	defer w.w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			w.reload(apply)
		}
	}
}

func (w *Watcher) reload(apply func(*config.Config) error) {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.log.Warn("ignoring config change", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := apply(cfg); err != nil {
		w.log.Warn("config change rejected", zap.String("path", w.path), zap.Error(err))
	}
}
