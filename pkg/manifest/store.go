package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ManifestFileName is the well-known manifest file name inside a plugin
// directory.
const ManifestFileName = "plugin.yaml"

// Store loads and indexes plugin manifests. Manifests are immutable once
// loaded; the store is safe for concurrent readers.
type Store struct {
	mu      sync.RWMutex
	loader  *Loader
	plugins map[string]*Plugin
	logger  zerolog.Logger
}

// NewStore creates an empty manifest store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		loader:  NewLoader(),
		plugins: make(map[string]*Plugin),
		logger:  logger.With().Str("component", "manifest-store").Logger(),
	}
}

// LoadDir walks a plugin root directory and indexes every plugin.yaml
// found. Duplicate plugin IDs across directories are an error.
func (s *Store) LoadDir(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("plugin root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugin root %s is not a directory", root)
	}

	var loaded int
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestFileName {
			return nil
		}

		plugin, err := s.loader.LoadFromFile(path)
		if err != nil {
			return err
		}
		if err := s.add(plugin); err != nil {
			return err
		}

		loaded++
		s.logger.Debug().
			Str("plugin_id", plugin.ID).
			Str("path", path).
			Msg("Indexed plugin manifest")
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("root", root).
		Int("plugins", loaded).
		Msg("Loaded plugin root")
	return nil
}

// LoadFile loads a single manifest file into the store and returns it.
// Used for root manifests passed directly on the command line.
func (s *Store) LoadFile(path string) (*Plugin, error) {
	plugin, err := s.loader.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := s.add(plugin); err != nil {
		return nil, err
	}
	return plugin, nil
}

func (s *Store) add(plugin *Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.plugins[plugin.ID]; ok {
		return fmt.Errorf("duplicate plugin id %q: %s and %s", plugin.ID, existing.Path, plugin.Path)
	}
	s.plugins[plugin.ID] = plugin
	return nil
}

// Get returns the manifest for a plugin ID.
func (s *Store) Get(id string) (*Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plugin, ok := s.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q not found%s", id, s.suggest(id))
	}
	return plugin, nil
}

// List returns all indexed manifests sorted by ID.
func (s *Store) List() []*Plugin {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })
	return plugins
}

// Len returns the number of indexed manifests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plugins)
}

// Reset drops all indexed manifests. Used by the dev watch loop before
// re-indexing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins = make(map[string]*Plugin)
}

// suggest returns a hint for IDs that differ only by prefix, to make
// typos in invocations actionable.
func (s *Store) suggest(id string) string {
	for known := range s.plugins {
		if strings.HasPrefix(known, id) || strings.HasPrefix(id, known) {
			return fmt.Sprintf(" (did you mean %q?)", known)
		}
	}
	return ""
}
