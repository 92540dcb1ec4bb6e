package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// CatalogWatcher reloads the catalog when its file changes. The parent
// directory is watched so editors that replace the file by rename are seen.
// An invalid catalog is logged and ignored; the last good one stays active.
type CatalogWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*CatalogData)
	logger   *slog.Logger
}

func NewCatalogWatcher(path string, onChange func(*CatalogData), logger *slog.Logger) (*CatalogWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogWatcher{path: abs, watcher: fsw, onChange: onChange, logger: logger}, nil
}

// Run delivers reloads until ctx is canceled, then closes the watcher.
func (w *CatalogWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			trigger = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", "error", err)
		case <-trigger:
			trigger = nil
			w.reload()
		}
	}
}

func (w *CatalogWatcher) reload() {
	data, err := LoadCatalog(w.path)
	if err != nil {
		w.logger.Error("catalog reload rejected, keeping previous catalog", "path", w.path, "error", err)
		return
	}
	w.logger.Info("catalog reloaded",
		"path", w.path,
		"reviewers", len(data.Reviewers),
		"rules", len(data.Rules),
		"policies", len(data.Policies),
		"contacts", len(data.Contacts),
	)
	w.onChange(data)
}
