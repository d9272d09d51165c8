package middleware

import (
	"encoding/json"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// Data files become module scripts whose Source holds the original text.
// The file is parsed only to reject malformed content early; its bytes are
// carried verbatim so a subsequent syncback is byte-identical.

func snapshotJSON(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	var probe any
	if err := json.Unmarshal(contents, &probe); err != nil {
		return nil, rberrors.NewFileError("parse", path, err)
	}
	return snapshotData(path, base, NameJSON, contents)
}

func snapshotTOML(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	var probe map[string]any
	if err := toml.Unmarshal(contents, &probe); err != nil {
		return nil, rberrors.NewFileError("parse", path, err)
	}
	return snapshotData(path, base, NameTOML, contents)
}

func snapshotYAML(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	var probe any
	if err := yaml.Unmarshal(contents, &probe); err != nil {
		return nil, rberrors.NewFileError("parse", path, err)
	}
	return snapshotData(path, base, NameYAML, contents)
}

func snapshotData(path, base, mwName string, contents []byte) (*snapshot.Snapshot, error) {
	snap, _, err := newFileSnapshot(path, base, mwName, "ModuleScript")
	if err != nil {
		return nil, err
	}
	snap.Properties["Source"] = instance.String(contents)
	return snap, nil
}

func snapshotText(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	snap, _, err := newFileSnapshot(path, base, NameText, "StringValue")
	if err != nil {
		return nil, err
	}
	snap.Properties["Value"] = instance.String(contents)
	return snap, nil
}
