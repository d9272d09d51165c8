package middleware

import (
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

func snapshotServerScript(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	return snapshotScript(path, base, NameServerScript, "Script", contents)
}

func snapshotClientScript(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	return snapshotScript(path, base, NameClientScript, "LocalScript", contents)
}

func snapshotModuleScript(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	return snapshotScript(path, base, NameModuleScript, "ModuleScript", contents)
}

func snapshotScript(path, base, mwName, className string, contents []byte) (*snapshot.Snapshot, error) {
	snap, _, err := newFileSnapshot(path, base, mwName, className)
	if err != nil {
		return nil, err
	}
	snap.Properties["Source"] = instance.String(contents)
	return snap, nil
}
