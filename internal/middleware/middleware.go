// Package middleware maps on-disk files to instance snapshots. Each
// middleware owns one file format; dispatch is by filename suffix, with
// compound suffixes checked before simple ones so "Foo.server.lua" never
// classifies as a plain module script.
package middleware

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rbxsync/rbxsync/internal/debug"
	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/naming"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// Middleware names recorded in snapshot metadata and consulted by the
// syncback writer when choosing an output format.
const (
	NameServerScript = "server_script"
	NameClientScript = "client_script"
	NameModuleScript = "module_script"
	NameJSONModel    = "json_model"
	NameJSON         = "json"
	NameTOML         = "toml"
	NameYAML         = "yaml"
	NameText         = "text"
	NameBinaryModel  = "binary_model"
	NameDir          = "dir"
	NameProject      = "project"
)

// Context carries the per-operation environment a snapshot build needs.
type Context struct {
	// Ignore reports whether a path is filtered out by project ignore
	// rules. Nil ignores nothing.
	Ignore func(path string) bool
	// Codec decodes binary model files. Nil falls back to the opaque
	// pass-through codec.
	Codec BinaryCodec
}

func (c *Context) ignored(path string) bool {
	return c != nil && c.Ignore != nil && c.Ignore(path)
}

func (c *Context) codec() BinaryCodec {
	if c == nil || c.Codec == nil {
		return OpaqueCodec{}
	}
	return c.Codec
}

type snapshotFunc func(ctx *Context, path, name string, contents []byte) (*snapshot.Snapshot, error)

type rule struct {
	suffix string
	name   string
	build  snapshotFunc
}

// Dispatch order matters: longest/compound suffixes first.
var rules = []rule{
	{".server.lua", NameServerScript, snapshotServerScript},
	{".server.luau", NameServerScript, snapshotServerScript},
	{".client.lua", NameClientScript, snapshotClientScript},
	{".client.luau", NameClientScript, snapshotClientScript},
	{".model.json", NameJSONModel, snapshotJSONModel},
	{".meta.json", "", nil}, // sidecar, consumed by its owner
	{".project.json", "", nil}, // handled by the project loader
	{".lua", NameModuleScript, snapshotModuleScript},
	{".luau", NameModuleScript, snapshotModuleScript},
	{".json", NameJSON, snapshotJSON},
	{".toml", NameTOML, snapshotTOML},
	{".yaml", NameYAML, snapshotYAML},
	{".yml", NameYAML, snapshotYAML},
	{".txt", NameText, snapshotText},
	{".rbxm", NameBinaryModel, snapshotBinaryModel},
	{".rbxmx", NameBinaryModel, snapshotBinaryModel},
}

func classify(filename string) (r rule, base string, ok bool) {
	for _, candidate := range rules {
		if rest, found := strings.CutSuffix(filename, candidate.suffix); found && rest != "" {
			if candidate.build == nil {
				return rule{}, "", false
			}
			return candidate, rest, true
		}
	}
	return rule{}, "", false
}

// Classify returns the middleware name and instance-name base for a
// filename, or ok=false for files no middleware claims.
func Classify(filename string) (mwName, base string, ok bool) {
	r, base, ok := classify(filename)
	return r.name, base, ok
}

// FromPath builds a snapshot from one path, file or directory. Ignored and
// unclaimed paths return (nil, nil): a normal outcome, not a failure.
func FromPath(ctx *Context, path string) (*snapshot.Snapshot, error) {
	if ctx.ignored(path) {
		debug.LogSnapshot("ignored: %s\n", path)
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rberrors.NewFileError("stat", path, err)
	}
	if info.IsDir() {
		return snapshotDir(ctx, path)
	}

	r, base, ok := classify(filepath.Base(path))
	if !ok {
		return nil, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, rberrors.NewFileError("read", path, err)
	}
	return r.build(ctx, path, base, contents)
}

// instanceName recovers the true display name for a file base: the sidecar
// override when present, otherwise decode after stripping any dedup
// suffix. Stripping first is safe because the suffix marker is forbidden
// in unescaped display names.
func instanceName(base string, meta *Meta) string {
	if meta != nil && meta.Name != "" {
		return meta.Name
	}
	return naming.Decode(naming.StripSuffix(base))
}

// newFileSnapshot assembles the common parts of a single-file snapshot,
// loading and applying the adjacent sidecar if one exists.
func newFileSnapshot(path, base, mwName, className string) (*snapshot.Snapshot, *Meta, error) {
	meta, metaPath, err := readSidecar(path, base)
	if err != nil {
		return nil, nil, err
	}

	snap := snapshot.New(instanceName(base, meta), className)
	snap.Metadata = snapshot.Metadata{
		InstigatingSource: path,
		RelevantPaths:     []string{path},
		Middleware:        mwName,
	}
	if metaPath != "" {
		snap.Metadata.RelevantPaths = append(snap.Metadata.RelevantPaths, metaPath)
	}
	if meta != nil {
		if err := meta.Apply(snap); err != nil {
			return nil, nil, rberrors.NewFileError("apply meta", metaPath, err)
		}
	}
	return snap, meta, nil
}

func readSidecar(path, base string) (*Meta, string, error) {
	metaPath := filepath.Join(filepath.Dir(path), base+".meta.json")
	meta, err := ReadMeta(metaPath)
	if err != nil {
		return nil, "", err
	}
	if meta == nil {
		return nil, "", nil
	}
	return meta, metaPath, nil
}
