package target

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the advisory lock file created in the target root for
// the duration of a run.
const LockFileName = ".scaffold.lock"

// RunLock is an exclusive advisory lock on a target root, preventing two
// concurrent installs from interleaving writes into the same tree.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the run lock for a local target root without
// blocking. A held lock means another install is in progress.
func AcquireRunLock(root string) (*RunLock, error) {
	lock := flock.New(filepath.Join(root, LockFileName))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock target root %s: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("target root %s is locked by another run", root)
	}

	return &RunLock{lock: lock}, nil
}

// Release releases the run lock.
func (r *RunLock) Release() error {
	if r == nil || r.lock == nil {
		return nil
	}
	return r.lock.Unlock()
}
