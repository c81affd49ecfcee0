package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches plugin roots for manifest and template changes and
// triggers a re-index. Used by the dev workflow; never part of an
// install run.
type Watcher struct {
	store   *Store
	roots   []string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// debounce is the quiet period after the last event before a reload.
	debounce time.Duration
}

// NewWatcher creates a watcher over the given plugin roots.
func NewWatcher(store *Store, roots []string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		roots:    roots,
		logger:   logger.With().Str("component", "manifest-watcher").Logger(),
		debounce: 500 * time.Millisecond,
	}
}

// Watch blocks until ctx is cancelled, re-indexing the store and calling
// onReload after each batch of changes. onReload receives the re-index
// error, if any, so callers can surface validation failures.
func (w *Watcher) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	w.watcher = watcher

	for _, root := range w.roots {
		if err := w.watchTree(root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	w.logger.Info().
		Strs("roots", w.roots).
		Msg("Watching plugin roots")

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Plugin source changed")

			// New directories must be added to the watch set.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watchTree(event.Name)
				}
			}

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.debounce, func() {
				onReload(w.reload())
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// relevant reports whether a change to the given path can affect the
// manifest index. Template edits count: they change rendered artifacts.
func (w *Watcher) relevant(path string) bool {
	base := filepath.Base(path)
	if base == ManifestFileName {
		return true
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return true
	}
	return strings.HasSuffix(base, ".tmpl")
}

func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) reload() error {
	w.store.Reset()
	for _, root := range w.roots {
		if err := w.store.LoadDir(root); err != nil {
			return err
		}
	}
	w.logger.Info().
		Int("plugins", w.store.Len()).
		Msg("Re-indexed plugin manifests")
	return nil
}
