// Package target abstracts the target file tree an install run writes
// into. The tree is the only shared mutable resource of a run; all
// paths are relative to the target root and are rejected if they
// resolve outside it.
package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS is the target-tree interface the execution engine writes through.
// Implementations must create parent directories implicitly on write.
type FS interface {
	// Root returns the target root in display form.
	Root() string

	// ReadFile reads a file relative to the root. Returns os.ErrNotExist
	// (wrapped) when the file does not exist.
	ReadFile(rel string) ([]byte, error)

	// WriteFile writes a file relative to the root, creating parent
	// directories as needed. mode applies to newly created files only.
	WriteFile(rel string, data []byte, mode os.FileMode) error

	// Stat stats a path relative to the root.
	Stat(rel string) (os.FileInfo, error)

	// Close releases any resources held by the backend.
	Close() error
}

// PathEscapeError reports a resolved artifact path that leaves the
// target root.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path %q escapes the target root", e.Path)
}

// Normalize cleans a resolved target path and rejects any path that
// would escape the target root: absolute paths and parent-directory
// traversal.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", &PathEscapeError{Path: path}
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return "", &PathEscapeError{Path: path}
	}

	clean := filepath.ToSlash(filepath.Clean(path))
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", &PathEscapeError{Path: path}
	}
	return clean, nil
}

// Exists reports whether a path exists in the target tree.
func Exists(fs FS, rel string) (bool, error) {
	_, err := fs.Stat(rel)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
