package target

import (
	"fmt"
	"os"
	"path/filepath"
)

// Local is the local-filesystem target backend, rooted at a directory.
type Local struct {
	root string
}

// NewLocal creates a local target rooted at root, creating the root
// directory if it does not exist.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("target root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target root %s: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute target root.
func (l *Local) Root() string {
	return l.root
}

// ReadFile reads a file relative to the root.
func (l *Local) ReadFile(rel string) ([]byte, error) {
	path, err := l.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes a file relative to the root. Parent directory
// creation is implicit and idempotent.
func (l *Local) WriteFile(rel string, data []byte, mode os.FileMode) error {
	path, err := l.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	return os.WriteFile(path, data, mode)
}

// Stat stats a path relative to the root.
func (l *Local) Stat(rel string) (os.FileInfo, error) {
	path, err := l.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

// Close is a no-op for the local backend.
func (l *Local) Close() error {
	return nil
}

// resolve joins a relative path onto the root, re-checking containment.
// Graph build already normalizes paths; this is the backend's own guard.
func (l *Local) resolve(rel string) (string, error) {
	clean, err := Normalize(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}
