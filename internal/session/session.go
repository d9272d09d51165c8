// Package session owns the authoritative live tree for one project. All
// tree reads and mutations happen under a single mutex held only for
// in-memory work; disk reads and patch computation run against a clone
// taken under the lock, and only the final apply re-acquires it.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rbxsync/rbxsync/internal/debug"
	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/middleware"
	"github.com/rbxsync/rbxsync/internal/project"
	"github.com/rbxsync/rbxsync/internal/refpath"
	"github.com/rbxsync/rbxsync/internal/snapshot"
	"github.com/rbxsync/rbxsync/internal/syncback"
	"github.com/rbxsync/rbxsync/internal/watch"
)

// StampedPatch is a patch tagged with its position in the apply order.
// Cursors are monotone: a subscriber that reconnects with the last cursor
// it saw receives exactly the patches it missed.
type StampedPatch struct {
	Cursor uint64
	Patch  *snapshot.PatchSet
}

const (
	historyLimit    = 1024
	batchQueueSize  = 64
	subscriberQueue = 64
)

// Session holds the live tree, applies filesystem changes to it in event
// order, and streams applied patches to subscribers.
type Session struct {
	project *project.Project
	codec   middleware.BinaryCodec

	mu   sync.Mutex
	tree *snapshot.Tree

	subMu       sync.Mutex
	cursor      uint64
	history     []StampedPatch
	subscribers map[int]chan StampedPatch
	nextSub     int

	watcher *watch.Watcher
	batches chan watch.Batch
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open builds the initial live tree from the project's mounts. The tree is
// usable immediately; call Start to begin watching for changes.
func Open(proj *project.Project, codec middleware.BinaryCodec) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		project:     proj,
		codec:       codec,
		tree:        snapshot.NewTree(proj.Name, proj.RootClassName),
		subscribers: make(map[int]chan StampedPatch),
		batches:     make(chan watch.Batch, batchQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := range proj.Mounts {
		if _, err := s.refreshMount(&proj.Mounts[i]); err != nil {
			cancel()
			return nil, fmt.Errorf("mount %q: %w", proj.Mounts[i].Target, err)
		}
	}
	debug.LogSession("opened session %q with %d mounts, %d nodes\n",
		proj.Name, len(proj.Mounts), s.tree.Len())
	return s, nil
}

// Start begins watching every mount path and applying changes.
func (s *Session) Start() error {
	watcher, err := watch.New(watch.Options{Ignore: s.project.Ignored}, s.enqueueBatch)
	if err != nil {
		return err
	}
	s.watcher = watcher

	roots := make([]string, len(s.project.Mounts))
	for i, mount := range s.project.Mounts {
		roots[i] = mount.Path
	}
	if err := watcher.Start(roots...); err != nil {
		watcher.Stop()
		s.watcher = nil
		return err
	}

	s.wg.Add(1)
	go s.processLoop()
	return nil
}

// Stop shuts the watcher and processor down and closes all subscriber
// streams.
func (s *Session) Stop() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			debug.LogSession("watcher stop: %v\n", err)
		}
	}
	s.cancel()
	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
	debug.LogSession("session %q stopped at cursor %d\n", s.project.Name, s.cursor)
}

// enqueueBatch hands a watcher batch to the processor. Batches are queued
// in arrival order; the processor applies them serially so patches land in
// the order their events were observed.
func (s *Session) enqueueBatch(batch watch.Batch) {
	select {
	case s.batches <- batch:
	case <-s.ctx.Done():
	}
}

func (s *Session) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case batch := <-s.batches:
			s.processBatch(batch)
		}
	}
}

// processBatch maps changed paths to their mounts and refreshes each
// affected mount once. Refreshing re-snapshots the mount directory, so one
// pass covers every creation, change and removal inside it.
func (s *Session) processBatch(batch watch.Batch) {
	affected := make(map[int]*project.Mount)
	paths := make([]string, 0, len(batch.Created)+len(batch.Changed)+len(batch.Removed))
	paths = append(paths, batch.Created...)
	paths = append(paths, batch.Changed...)
	paths = append(paths, batch.Removed...)

	for _, path := range paths {
		if mount := s.project.MountFor(path); mount != nil {
			for i := range s.project.Mounts {
				if &s.project.Mounts[i] == mount {
					affected[i] = mount
				}
			}
		}
	}

	for i := range s.project.Mounts {
		mount, ok := affected[i]
		if !ok {
			continue
		}
		if _, err := s.refreshMount(mount); err != nil {
			debug.LogSession("refresh %q: %v\n", mount.Target, err)
		}
	}
}

// refreshMount re-snapshots one mount from disk and reconciles the live
// tree with it. The disk read and the patch computation hold no lock; the
// lock is taken once to clone and once to apply.
func (s *Session) refreshMount(mount *project.Mount) (*snapshot.PatchSet, error) {
	mwCtx := &middleware.Context{Ignore: s.project.Ignored, Codec: s.codec}
	snap, err := middleware.FromPath(mwCtx, mount.Path)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("mount path %q produced no instance", mount.Path)
	}

	segments := refpath.Split(mount.Target)
	snap.Name = segments[len(segments)-1]
	if mount.ClassName != "" {
		snap.ClassName = mount.ClassName
	} else if len(segments) == 1 && snap.ClassName == "Folder" {
		// A plain directory mounted directly under the root is a service.
		snap.ClassName = snap.Name
	}

	s.mu.Lock()
	target, err := s.ensureTarget(segments)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	clone := s.tree.Clone()
	s.mu.Unlock()

	patch, err := snapshot.Compute(snap, clone, target, instance.LiveEquality)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return patch, nil
	}

	s.mu.Lock()
	_, applyErr := snapshot.Apply(s.tree, patch, nil)
	// Stamping under the tree lock keeps cursor order equal to apply order.
	s.publish(patch)
	s.mu.Unlock()
	if applyErr != nil {
		// Per-instance failures: the rest of the patch is committed.
		debug.LogSession("apply %q: %v\n", mount.Target, applyErr)
	}

	return patch, nil
}

// ensureTarget resolves a mount target path, creating missing nodes along
// the way. Intermediate nodes directly under the root are services named
// by their class; deeper ones are folders. Caller holds the tree lock.
func (s *Session) ensureTarget(segments []string) (instance.Ref, error) {
	if len(segments) == 0 {
		return instance.NoneRef, fmt.Errorf("empty mount target")
	}
	current := s.tree.Root()
	for depth, segment := range segments {
		var next instance.Ref
		for _, child := range s.tree.ChildNodes(current) {
			if child.Name == segment {
				next = child.ID
				break
			}
		}
		if next.IsNone() {
			class := "Folder"
			if depth == 0 {
				class = segment
			}
			node := &snapshot.Node{Name: segment, ClassName: class}
			if err := s.tree.Insert(current, node); err != nil {
				return instance.NoneRef, err
			}
			next = node.ID
		}
		current = next
	}
	return current, nil
}

// ReadSubtree returns a detached snapshot of the subtree at id. The zero
// ref reads the whole tree.
func (s *Session) ReadSubtree(id instance.Ref) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.IsNone() {
		id = s.tree.Root()
	}
	return s.tree.SnapshotOf(id)
}

// Write applies a patch from a client to the live tree and streams it to
// subscribers. Per-instance failures are reported in the result without
// aborting the rest of the patch. Cursors are assigned while the tree lock
// is still held, so concurrent writes stamp in apply order.
func (s *Session) Write(patch *snapshot.PatchSet) (*snapshot.ApplyResult, error) {
	s.mu.Lock()
	result, err := snapshot.Apply(s.tree, patch, nil)
	sidecars := s.renamedSidecars(patch)
	if !patch.IsEmpty() {
		s.publish(patch)
	}
	s.mu.Unlock()

	s.upsertSidecarNames(sidecars)
	return result, err
}

type sidecarRename struct {
	path string
	name string
}

// renamedSidecars maps renamed instances to the sidecar updates that keep
// their on-disk identity current. Caller holds the tree lock.
func (s *Session) renamedSidecars(patch *snapshot.PatchSet) []sidecarRename {
	var out []sidecarRename
	for _, u := range patch.Updated {
		if u.ChangedName == nil {
			continue
		}
		node := s.tree.Get(u.ID)
		if node == nil || node.Metadata.InstigatingSource == "" {
			continue
		}
		source := node.Metadata.InstigatingSource

		var sidecar, stem string
		if node.Metadata.Middleware == middleware.NameDir {
			sidecar = filepath.Join(source, "init.meta.json")
			stem = filepath.Base(source)
		} else {
			_, base, ok := middleware.Classify(filepath.Base(source))
			if !ok {
				continue
			}
			sidecar = filepath.Join(filepath.Dir(source), base+".meta.json")
			stem = base
		}

		name := *u.ChangedName
		if stem == name {
			// The filename already spells the new name; drop the field.
			name = ""
		}
		out = append(out, sidecarRename{path: sidecar, name: name})
	}
	return out
}

// upsertSidecarNames commits sidecar name updates to disk, off-lock. The
// next snapshot of the mount then re-identifies the renamed instances
// instead of treating them as removed and recreated.
func (s *Session) upsertSidecarNames(renames []sidecarRename) {
	for _, rn := range renames {
		if err := middleware.UpsertMetaName(rn.path, rn.name); err != nil {
			debug.LogSession("sidecar rename %q: %v\n", rn.path, err)
		}
	}
}

// Cursor returns the cursor of the most recently applied patch.
func (s *Session) Cursor() uint64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.cursor
}

// Syncback writes the mount subtrees back to their directories. The tree
// is cloned under the lock; all planning and disk I/O runs on the clone.
func (s *Session) Syncback() (*syncback.Stats, error) {
	s.mu.Lock()
	clone := s.tree.Clone()
	s.mu.Unlock()

	total := &syncback.Stats{}
	errs := &rberrors.MultiError{}
	for _, mount := range s.project.Mounts {
		target, ok := clone.ResolveRefPath(mount.Target)
		if !ok {
			errs.Append(fmt.Errorf("mount target %q not in tree", mount.Target))
			continue
		}
		fs, stats, err := syncback.Run(clone, syncback.Options{
			Dir:    mount.Path,
			Policy: s.project.Policy,
			Codec:  s.codec,
			Root:   target,
			Ignore: s.project.Ignored,
		})
		if err != nil {
			errs.Append(err)
		}
		if err := fs.Apply(stats); err != nil {
			errs.Append(err)
		}
		total.InstancesProcessed += stats.InstancesProcessed
		total.FilesWritten += stats.FilesWritten
		total.FilesSkipped += stats.FilesSkipped
		total.FilesRemoved += stats.FilesRemoved
		total.Errors += stats.Errors
	}
	return total, errs.ErrorOrNil()
}
