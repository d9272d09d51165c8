package middleware

import (
	"encoding/json"
	"fmt"
	"os"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// Meta is the parsed form of a sidecar file. Sidecars carry what the
// primary file's name and format cannot: the true display name, a class
// override, extra properties and attributes.
type Meta struct {
	Name                   string                     `json:"name,omitempty"`
	ClassName              string                     `json:"className,omitempty"`
	Properties             map[string]json.RawMessage `json:"properties,omitempty"`
	Attributes             map[string]json.RawMessage `json:"attributes,omitempty"`
	IgnoreUnknownInstances bool                       `json:"ignoreUnknownInstances,omitempty"`
}

// ReadMeta loads a sidecar file. A missing file is (nil, nil).
func ReadMeta(path string) (*Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rberrors.NewFileError("read", path, err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, rberrors.NewFileError("parse", path, err)
	}
	return &meta, nil
}

// Apply overlays the sidecar's fields onto a snapshot.
func (m *Meta) Apply(snap *snapshot.Snapshot) error {
	if m.ClassName != "" {
		snap.ClassName = m.ClassName
	}
	snap.Metadata.IgnoreUnknownInstances = m.IgnoreUnknownInstances

	for name, raw := range m.Properties {
		v, err := instance.DecodeValueJSON(raw)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		snap.Properties[name] = v
	}

	if len(m.Attributes) > 0 {
		attrs := instance.Attributes{}
		if existing := snap.Attributes(); existing != nil {
			for k, v := range existing {
				attrs[k] = v
			}
		}
		for name, raw := range m.Attributes {
			v, err := instance.DecodeValueJSON(raw)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", name, err)
			}
			attrs[name] = v
		}
		snap.Properties["Attributes"] = attrs
	}
	return nil
}

// UpsertMetaName sets or clears the "name" field of a sidecar, creating
// the file if needed and preserving every other field byte-for-byte at the
// JSON level. Clearing the last field deletes the file so no orphan
// sidecar lingers.
func UpsertMetaName(path, name string) error {
	fields := map[string]json.RawMessage{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &fields); err != nil {
			return rberrors.NewFileError("parse", path, err)
		}
	case os.IsNotExist(err):
	default:
		return rberrors.NewFileError("read", path, err)
	}

	if name == "" {
		delete(fields, "name")
	} else {
		encoded, err := json.Marshal(name)
		if err != nil {
			return err
		}
		fields["name"] = encoded
	}

	if len(fields) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return rberrors.NewFileError("remove", path, err)
		}
		return nil
	}

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return rberrors.NewFileError("write", path, err)
	}
	return nil
}
