package middleware

import (
	"github.com/cespare/xxhash/v2"

	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// BinaryCodec is the boundary around the engine's binary model format. The
// byte layout is out of scope here; a real codec plugs in from outside.
type BinaryCodec interface {
	// Decode turns model bytes into a snapshot rooted at the model's
	// single top-level instance.
	Decode(name string, contents []byte) (*snapshot.Snapshot, error)
	// Encode is the reverse. Codecs that cannot encode return an error.
	Encode(snap *snapshot.Snapshot) ([]byte, error)
}

// OpaqueCodec carries model bytes through untouched: the instance holds
// the raw blob plus a content fingerprint, so diffs detect changes without
// understanding the format and syncback reproduces the file exactly.
type OpaqueCodec struct{}

func (OpaqueCodec) Decode(name string, contents []byte) (*snapshot.Snapshot, error) {
	snap := snapshot.New(name, "Model")
	snap.Properties["Contents"] = instance.Binary(contents)
	snap.Properties["ContentsHash"] = instance.Int64(int64(xxhash.Sum64(contents)))
	return snap, nil
}

func (OpaqueCodec) Encode(snap *snapshot.Snapshot) ([]byte, error) {
	if v, ok := snap.Properties["Contents"].(instance.Binary); ok {
		return []byte(v), nil
	}
	return nil, nil
}

func snapshotBinaryModel(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	meta, metaPath, err := readSidecar(path, base)
	if err != nil {
		return nil, err
	}

	snap, err := ctx.codec().Decode(instanceName(base, meta), contents)
	if err != nil {
		return nil, err
	}
	snap.Metadata = snapshot.Metadata{
		InstigatingSource: path,
		RelevantPaths:     []string{path},
		Middleware:        NameBinaryModel,
	}
	if metaPath != "" {
		snap.Metadata.RelevantPaths = append(snap.Metadata.RelevantPaths, metaPath)
	}
	if meta != nil {
		if err := meta.Apply(snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
