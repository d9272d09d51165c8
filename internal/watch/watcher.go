// Package watch monitors a sync root for filesystem changes and delivers
// them as debounced batches. Watcher-reported deletions are provisional:
// the real filesystem is re-checked before a removal is committed, and a
// background sweep re-validates recently removed paths in case the watcher
// never delivers the follow-up creation event.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rbxsync/rbxsync/internal/debug"
)

// EventType classifies a single filesystem change.
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
	EventRename
)

// Batch is one debounced group of changes, removals already confirmed
// against the real filesystem.
type Batch struct {
	Created []string
	Changed []string
	Removed []string
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long to accumulate events before flushing a batch.
	Debounce time.Duration
	// Ignore reports whether a path is excluded from watching. Nil means
	// nothing is ignored.
	Ignore func(path string) bool
	// RecoveryInterval is how often the background sweep re-checks paths
	// whose removal was recently committed.
	RecoveryInterval time.Duration
	// RecoveryWindow is how long a removed path stays eligible for
	// recovery before the sweep forgets it.
	RecoveryWindow time.Duration
}

const (
	defaultDebounce         = 100 * time.Millisecond
	defaultRecoveryInterval = 2 * time.Second
	defaultRecoveryWindow   = 30 * time.Second
)

// Watcher monitors a directory tree and invokes a callback with debounced
// change batches.
type Watcher struct {
	watcher   *fsnotify.Watcher
	opts      Options
	debouncer *eventDebouncer
	recovery  *recoveryTracker
	onBatch   func(Batch)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu         sync.RWMutex
	eventsProcessed int64
	errorCount      int64
	lastEventTime   time.Time
}

// New creates a watcher. Call Start to begin delivery and Stop to shut
// down.
func New(opts Options, onBatch func(Batch)) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = defaultRecoveryInterval
	}
	if opts.RecoveryWindow <= 0 {
		opts.RecoveryWindow = defaultRecoveryWindow
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fsw,
		opts:     opts,
		recovery: newRecoveryTracker(opts.RecoveryWindow),
		onBatch:  onBatch,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.debouncer = newEventDebouncer(opts.Debounce, w.flushBatch)
	return w, nil
}

// Start adds watches for each root and every directory below it, then
// begins processing events.
func (w *Watcher) Start(roots ...string) error {
	for _, root := range roots {
		debug.LogWatch("starting watcher for %s\n", root)
		if err := w.addWatches(root); err != nil {
			return fmt.Errorf("failed to add watches starting from %s: %w", root, err)
		}
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.runRecoverySweep()

	return nil
}

// Stop cancels event processing and waits for goroutines to finish.
func (w *Watcher) Stop() error {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		log.Printf("Error closing fsnotify watcher: %v", err)
	}
	w.debouncer.stop()
	w.wg.Wait()
	debug.LogWatch("watcher stopped\n")
	return nil
}

// addWatches walks root and watches every non-ignored directory. Symlink
// cycles are broken by tracking resolved paths.
func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if !info.IsDir() {
			return nil
		}

		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[realPath] {
			return filepath.SkipDir
		}
		visited[realPath] = true

		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	return w.opts.Ignore != nil && w.opts.Ignore(path)
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
			w.incrementStats(0, 1)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.LogWatch("event %v for %s\n", event.Op, path)

	if w.ignored(path) {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// The path is gone right now. Remove and Rename both reach here;
		// the flush re-checks before committing either as a removal.
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.debouncer.addEvent(path, EventRemove)
		}
		return
	}

	if info.IsDir() {
		// New directories need their own watch; events inside them would
		// otherwise be invisible.
		if event.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(path); err != nil {
				log.Printf("Warning: failed to add watch for new directory %s: %v", path, err)
			}
			w.debouncer.addEvent(path, EventCreate)
		}
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		w.debouncer.addEvent(path, EventCreate)
	case event.Op&fsnotify.Write != 0:
		w.debouncer.addEvent(path, EventWrite)
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		w.debouncer.addEvent(path, EventRemove)
	}
}

// flushBatch receives the debounced event map, confirms removals against
// the real filesystem, and hands the batch to the callback. Removal
// events are provisional until this point: an editor save that deletes
// and recreates a file within the debounce window must not drop the
// instance.
func (w *Watcher) flushBatch(events map[string]EventType) {
	var batch Batch
	for path, eventType := range events {
		switch eventType {
		case EventCreate:
			w.recovery.forget(path)
			batch.Created = append(batch.Created, path)
		case EventWrite, EventRename:
			w.recovery.forget(path)
			batch.Changed = append(batch.Changed, path)
		case EventRemove:
			if _, err := os.Stat(path); err == nil {
				// Still present: the event payload was stale.
				batch.Changed = append(batch.Changed, path)
				continue
			}
			w.recovery.mark(path)
			batch.Removed = append(batch.Removed, path)
		}
	}

	w.incrementStats(int64(len(events)), 0)
	debug.LogWatch("batch: %d created, %d changed, %d removed\n",
		len(batch.Created), len(batch.Changed), len(batch.Removed))
	if w.onBatch != nil {
		w.onBatch(batch)
	}
}

// runRecoverySweep periodically re-checks recently removed paths. A path
// that reappeared without a creation event is delivered as created.
func (w *Watcher) runRecoverySweep() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			recovered := w.recovery.sweep()
			if len(recovered) == 0 {
				continue
			}
			debug.LogWatch("recovery sweep found %d reappeared paths\n", len(recovered))
			if w.onBatch != nil {
				w.onBatch(Batch{Created: recovered})
			}
		}
	}
}

func (w *Watcher) incrementStats(events, errors int64) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.eventsProcessed += events
	w.errorCount += errors
	w.lastEventTime = time.Now()
}

// Stats reports watcher activity counters.
type Stats struct {
	EventsProcessed int64
	ErrorCount      int64
	LastEventTime   time.Time
	IsActive        bool
}

func (w *Watcher) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return Stats{
		EventsProcessed: w.eventsProcessed,
		ErrorCount:      w.errorCount,
		LastEventTime:   w.lastEventTime,
		IsActive:        w.ctx.Err() == nil,
	}
}
