package middleware

import (
	"encoding/json"
	"fmt"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// JSONModel is the on-disk shape of a .model.json file: one instance with
// nested children, all in a single human-editable document.
type JSONModel struct {
	Name       string                     `json:"name,omitempty"`
	ClassName  string                     `json:"className"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Attributes map[string]json.RawMessage `json:"attributes,omitempty"`
	Children   []JSONModel                `json:"children,omitempty"`
}

func snapshotJSONModel(ctx *Context, path, base string, contents []byte) (*snapshot.Snapshot, error) {
	var model JSONModel
	if err := json.Unmarshal(contents, &model); err != nil {
		return nil, rberrors.NewFileError("parse", path, err)
	}
	if model.ClassName == "" {
		return nil, rberrors.NewFileError("parse", path, fmt.Errorf("missing className"))
	}

	snap, meta, err := newFileSnapshot(path, base, NameJSONModel, model.ClassName)
	if err != nil {
		return nil, err
	}
	// The model's own name field is historical; the filename (or sidecar)
	// wins for the root so renames on disk behave uniformly.
	if err := model.apply(snap, path); err != nil {
		return nil, err
	}
	if meta != nil {
		// Sidecar overlays repeat on top of the model body.
		if err := meta.Apply(snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (m *JSONModel) apply(snap *snapshot.Snapshot, path string) error {
	for name, raw := range m.Properties {
		v, err := instance.DecodeValueJSON(raw)
		if err != nil {
			return rberrors.NewFileError("parse", path, fmt.Errorf("property %q: %w", name, err))
		}
		snap.Properties[name] = v
	}
	if len(m.Attributes) > 0 {
		attrs := instance.Attributes{}
		for name, raw := range m.Attributes {
			v, err := instance.DecodeValueJSON(raw)
			if err != nil {
				return rberrors.NewFileError("parse", path, fmt.Errorf("attribute %q: %w", name, err))
			}
			attrs[name] = v
		}
		snap.Properties["Attributes"] = attrs
	}

	for i := range m.Children {
		child := &m.Children[i]
		if child.ClassName == "" {
			return rberrors.NewFileError("parse", path, fmt.Errorf("child %q: missing className", child.Name))
		}
		childSnap := snapshot.New(child.Name, child.ClassName)
		childSnap.Metadata = snapshot.Metadata{
			InstigatingSource: path,
			RelevantPaths:     []string{path},
			Middleware:        NameJSONModel,
		}
		if err := child.apply(childSnap, path); err != nil {
			return err
		}
		snap.Children = append(snap.Children, childSnap)
	}
	return nil
}
