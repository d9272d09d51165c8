package watch

import (
	"os"
	"sync"
	"time"
)

// recoveryTracker remembers paths whose removal was recently committed.
// The watcher may never deliver the creation event for a path that is
// deleted and immediately recreated, so the sweep re-checks the real
// filesystem for a bounded window after each removal.
type recoveryTracker struct {
	mu      sync.Mutex
	pending map[string]time.Time
	window  time.Duration
}

func newRecoveryTracker(window time.Duration) *recoveryTracker {
	return &recoveryTracker{
		pending: make(map[string]time.Time),
		window:  window,
	}
}

func (r *recoveryTracker) mark(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[path] = time.Now()
}

// forget drops a path once a genuine event for it arrives.
func (r *recoveryTracker) forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, path)
}

// sweep returns paths that exist again on disk, and expires entries older
// than the window.
func (r *recoveryTracker) sweep() []string {
	r.mu.Lock()
	paths := make([]string, 0, len(r.pending))
	for path := range r.pending {
		paths = append(paths, path)
	}
	r.mu.Unlock()

	var recovered []string
	now := time.Now()
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			recovered = append(recovered, path)
			r.forget(path)
			continue
		}
		r.mu.Lock()
		if marked, ok := r.pending[path]; ok && now.Sub(marked) > r.window {
			delete(r.pending, path)
		}
		r.mu.Unlock()
	}
	return recovered
}

func (r *recoveryTracker) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
