package engine

import "sync"

// pathLocks serializes read-merge-write cycles per target path.
// Concurrent nodes never touch the same path without holding its lock,
// which is what makes append and section merges safe under parallel
// execution.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the given path and returns its release function.
func (p *pathLocks) acquire(path string) func() {
	p.mu.Lock()
	lock, ok := p.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[path] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
