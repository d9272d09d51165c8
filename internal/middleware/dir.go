package middleware

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// Init files, in lookup priority. A script init makes the directory a
// script instance; init.meta.json only describes it.
var initScripts = []struct {
	file      string
	className string
}{
	{"init.server.lua", "Script"},
	{"init.server.luau", "Script"},
	{"init.client.lua", "LocalScript"},
	{"init.client.luau", "LocalScript"},
	{"init.lua", "ModuleScript"},
	{"init.luau", "ModuleScript"},
}

const initMetaFile = "init.meta.json"

func isInitFile(name string) bool {
	if name == initMetaFile {
		return true
	}
	for _, init := range initScripts {
		if name == init.file {
			return true
		}
	}
	return false
}

// snapshotDir builds a directory's snapshot: the directory is an instance
// (Folder unless an init file says otherwise) and each entry inside
// becomes a child. Children are built in parallel but collected in
// directory-listing order, so the result is identical to a sequential
// walk.
func snapshotDir(ctx *Context, path string) (*snapshot.Snapshot, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, rberrors.NewFileError("readdir", path, err)
	}

	snap, err := dirOwnSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}

	children := make([]*snapshot.Snapshot, len(entries))
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for i, entry := range entries {
		if skipDirEntry(entry.Name()) {
			continue
		}
		childPath := filepath.Join(path, entry.Name())
		g.Go(func() error {
			child, err := FromPath(ctx, childPath)
			if err != nil {
				return err
			}
			children[i] = child
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, child := range children {
		if child != nil {
			snap.Children = append(snap.Children, child)
		}
	}
	return snap, nil
}

// skipDirEntry filters entries that never become children: init files
// (they describe the directory itself), sidecars (consumed by their
// owners), and dotfiles.
func skipDirEntry(name string) bool {
	if isInitFile(name) {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, ".meta.json") {
		return true
	}
	return false
}

// dirOwnSnapshot determines the directory instance itself from its init
// files.
func dirOwnSnapshot(ctx *Context, path string) (*snapshot.Snapshot, error) {
	base := filepath.Base(path)
	relevant := []string{path}

	var meta *Meta
	metaPath := filepath.Join(path, initMetaFile)
	m, err := ReadMeta(metaPath)
	if err != nil {
		return nil, err
	}
	if m != nil {
		meta = m
		relevant = append(relevant, metaPath)
	}

	name := instanceName(base, meta)

	for _, init := range initScripts {
		initPath := filepath.Join(path, init.file)
		contents, err := os.ReadFile(initPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, rberrors.NewFileError("read", initPath, err)
		}
		snap := snapshot.New(name, init.className)
		snap.Properties["Source"] = instance.String(contents)
		snap.Metadata = snapshot.Metadata{
			InstigatingSource: path,
			RelevantPaths:     append(relevant, initPath),
			Middleware:        NameDir,
		}
		if meta != nil {
			if err := meta.Apply(snap); err != nil {
				return nil, err
			}
		}
		return snap, nil
	}

	snap := snapshot.New(name, "Folder")
	snap.Metadata = snapshot.Metadata{
		InstigatingSource: path,
		RelevantPaths:     relevant,
		Middleware:        NameDir,
	}
	if meta != nil {
		if err := meta.Apply(snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
