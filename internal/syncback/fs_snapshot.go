// Package syncback turns the live instance tree back into files: the
// reverse of the snapshot middleware. It plans a full filesystem delta in
// memory first, then applies it, so a failed run never leaves a directory
// half-written for the instances that did succeed.
package syncback

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rbxsync/rbxsync/internal/debug"
	rberrors "github.com/rbxsync/rbxsync/internal/errors"
)

// FsSnapshot is a planned filesystem delta: files to write, directories to
// ensure, paths to delete. Nothing touches disk until Apply.
type FsSnapshot struct {
	writes  map[string][]byte
	dirs    map[string]struct{}
	deletes map[string]struct{}
}

// NewFsSnapshot creates an empty delta.
func NewFsSnapshot() *FsSnapshot {
	return &FsSnapshot{
		writes:  make(map[string][]byte),
		dirs:    make(map[string]struct{}),
		deletes: make(map[string]struct{}),
	}
}

// AddFile plans one file write.
func (fs *FsSnapshot) AddFile(path string, contents []byte) {
	fs.writes[path] = contents
}

// AddDir plans one directory.
func (fs *FsSnapshot) AddDir(path string) {
	fs.dirs[path] = struct{}{}
}

// AddDelete plans a removal. A path both written and deleted is written:
// the delete is dropped at apply time.
func (fs *FsSnapshot) AddDelete(path string) {
	fs.deletes[path] = struct{}{}
}

// Paths returns every path this delta produces (files and directories),
// sorted. Clean mode diffs this against the pre-run path set.
func (fs *FsSnapshot) Paths() []string {
	paths := make([]string, 0, len(fs.writes)+len(fs.dirs))
	for p := range fs.writes {
		paths = append(paths, p)
	}
	for p := range fs.dirs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FileContents returns the planned contents for a path, for tests and
// golden comparisons.
func (fs *FsSnapshot) FileContents(path string) ([]byte, bool) {
	b, ok := fs.writes[path]
	return b, ok
}

const (
	writeRetries   = 3
	retryBaseDelay = 50 * time.Millisecond
)

// Apply commits the delta to disk. Files whose on-disk content already
// hashes equal are skipped. Transient write failures are retried with
// backoff; persistent ones are collected per path and do not stop the
// remaining paths.
func (fs *FsSnapshot) Apply(stats *Stats) error {
	errs := &rberrors.MultiError{}

	dirs := make([]string, 0, len(fs.dirs))
	for dir := range fs.dirs {
		dirs = append(dirs, dir)
	}
	// Parents sort before children, so MkdirAll rarely has work twice.
	sort.Strings(dirs)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs.Append(rberrors.NewFileError("mkdir", dir, err))
		}
	}

	paths := make([]string, 0, len(fs.writes))
	for path := range fs.writes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		contents := fs.writes[path]
		if unchanged(path, contents) {
			stats.FilesSkipped++
			debug.LogSyncback("skip unchanged: %s\n", path)
			continue
		}
		if err := writeWithRetry(path, contents); err != nil {
			errs.Append(err)
			stats.Errors++
			continue
		}
		stats.FilesWritten++
	}

	deletes := make([]string, 0, len(fs.deletes))
	for path := range fs.deletes {
		if _, rewritten := fs.writes[path]; rewritten {
			continue
		}
		if _, kept := fs.dirs[path]; kept {
			continue
		}
		deletes = append(deletes, path)
	}
	// Children before parents.
	sort.Sort(sort.Reverse(sort.StringSlice(deletes)))
	for _, path := range deletes {
		if err := os.RemoveAll(path); err != nil {
			errs.Append(rberrors.NewFileError("remove", path, err))
			stats.Errors++
			continue
		}
		stats.FilesRemoved++
	}

	return errs.ErrorOrNil()
}

// unchanged reports whether the file already holds exactly these bytes,
// by content hash.
func unchanged(path string, contents []byte) bool {
	existing, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return xxhash.Sum64(existing) == xxhash.Sum64(contents)
}

func writeWithRetry(path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rberrors.NewFileError("mkdir", filepath.Dir(path), err)
	}
	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay << (attempt - 1))
		}
		lastErr = os.WriteFile(path, contents, 0o644)
		if lastErr == nil {
			return nil
		}
	}
	return rberrors.NewFileError("write", path, lastErr)
}
