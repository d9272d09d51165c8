// Package project loads the project descriptor: mount points binding tree
// locations to filesystem paths, global ignore rules, and syncback policy
// toggles.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/jsonschema-go/jsonschema"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
)

// DefaultFileName is looked for when a directory is given instead of a
// descriptor file.
const DefaultFileName = "default.project.json"

// Mount binds one tree location to one filesystem path.
type Mount struct {
	// Target is an absolute reference path under the root, e.g.
	// "ReplicatedStorage/Shared". Intermediate nodes are created as
	// services at the top level and folders below.
	Target string `json:"target"`
	// Path is the filesystem path, relative to the descriptor's
	// directory unless absolute.
	Path string `json:"path"`
	// ClassName overrides the mounted node's class. Empty derives it
	// from the filesystem (directory init files, file middleware).
	ClassName string `json:"className,omitempty"`
}

// Policy holds the behavior toggles.
type Policy struct {
	// EncodeNames enables forbidden-character encoding of instance names
	// during syncback. Defaults to true.
	EncodeNames *bool `json:"encodeNames,omitempty"`
	// SyncRefs persists reference properties as path attributes.
	SyncRefs bool `json:"syncRefs,omitempty"`
	// IgnoreHiddenServices restricts syncback to well-known visible
	// services under the root.
	IgnoreHiddenServices bool `json:"ignoreHiddenServices,omitempty"`
	// CleanSyncback rewrites every file from scratch instead of
	// preserving existing names and formats, and deletes orphans.
	CleanSyncback bool `json:"cleanSyncback,omitempty"`
}

// EncodeNamesEnabled resolves the EncodeNames default.
func (p Policy) EncodeNamesEnabled() bool {
	return p.EncodeNames == nil || *p.EncodeNames
}

// Project is a loaded, validated descriptor.
type Project struct {
	Name            string   `json:"name"`
	RootClassName   string   `json:"rootClassName,omitempty"`
	Mounts          []Mount  `json:"mounts"`
	GlobIgnorePaths []string `json:"globIgnorePaths,omitempty"`
	Policy          Policy   `json:"policy,omitempty"`

	// Dir is the descriptor file's directory; relative mount paths and
	// ignore globs resolve against it.
	Dir string `json:"-"`
}

var descriptorSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"name", "mounts"},
	Properties: map[string]*jsonschema.Schema{
		"name":          {Type: "string", MinLength: ptr(1)},
		"rootClassName": {Type: "string"},
		"mounts": {
			Type:     "array",
			MinItems: ptr(1),
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"target", "path"},
				Properties: map[string]*jsonschema.Schema{
					"target":    {Type: "string", MinLength: ptr(1)},
					"path":      {Type: "string", MinLength: ptr(1)},
					"className": {Type: "string"},
				},
			},
		},
		"globIgnorePaths": {
			Type:  "array",
			Items: &jsonschema.Schema{Type: "string"},
		},
		"policy": {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"encodeNames":          {Type: "boolean"},
				"syncRefs":             {Type: "boolean"},
				"ignoreHiddenServices": {Type: "boolean"},
				"cleanSyncback":        {Type: "boolean"},
			},
		},
	},
}

func ptr(n int) *int { return &n }

// Load reads and validates a descriptor. Given a directory, it looks for
// DefaultFileName inside. All failures here are fatal configuration
// errors: nothing useful can run without a valid descriptor.
func Load(path string) (*Project, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, rberrors.NewConfigError("project", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, rberrors.NewConfigError("project", path, err)
	}

	if err := validateDescriptor(raw); err != nil {
		return nil, rberrors.NewConfigError("project", path, err)
	}

	var project Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return nil, rberrors.NewConfigError("project", path, err)
	}
	project.Dir = filepath.Dir(path)
	if project.RootClassName == "" {
		project.RootClassName = "DataModel"
	}

	for i, mount := range project.Mounts {
		if !filepath.IsAbs(mount.Path) {
			project.Mounts[i].Path = filepath.Join(project.Dir, mount.Path)
		}
		if strings.HasPrefix(mount.Target, "/") || strings.HasSuffix(mount.Target, "/") {
			return nil, rberrors.NewConfigError("project.mounts.target", mount.Target,
				fmt.Errorf("target must not start or end with a separator"))
		}
	}

	for _, pattern := range project.GlobIgnorePaths {
		if !doublestar.ValidatePattern(pattern) {
			return nil, rberrors.NewConfigError("project.globIgnorePaths", pattern,
				fmt.Errorf("invalid glob pattern"))
		}
	}
	return &project, nil
}

func validateDescriptor(raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	resolved, err := descriptorSchema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	return resolved.Validate(value)
}

// Ignored reports whether a path is excluded by the project's glob ignore
// rules. Patterns match against the descriptor-relative slash-separated
// form.
func (p *Project) Ignored(path string) bool {
	rel, err := filepath.Rel(p.Dir, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range p.GlobIgnorePaths {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// MountFor returns the mount whose filesystem path contains the given
// path, or nil.
func (p *Project) MountFor(path string) *Mount {
	for i, mount := range p.Mounts {
		if path == mount.Path || strings.HasPrefix(path, mount.Path+string(filepath.Separator)) {
			return &p.Mounts[i]
		}
	}
	return nil
}
