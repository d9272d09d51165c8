package syncback

import (
	"encoding/json"
	"path/filepath"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/middleware"
	"github.com/rbxsync/rbxsync/internal/naming"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// extensions per middleware, appended after the stem.
var middlewareExt = map[string]string{
	middleware.NameServerScript: ".server.lua",
	middleware.NameClientScript: ".client.lua",
	middleware.NameModuleScript: ".lua",
	middleware.NameJSON:         ".json",
	middleware.NameTOML:         ".toml",
	middleware.NameYAML:         ".yaml",
	middleware.NameText:         ".txt",
	middleware.NameBinaryModel:  ".rbxm",
	middleware.NameJSONModel:    ".model.json",
}

var scriptClassInit = map[string]string{
	"Script":       "init.server.lua",
	"LocalScript":  "init.client.lua",
	"ModuleScript": "init.lua",
}

// emitNode writes one live node (and via recursion its subtree) under dir
// with the given filename stem.
func (r *runner) emitNode(node *snapshot.Node, old *snapshot.Snapshot, dir, stem string) {
	r.stats.InstancesProcessed++

	// Encoding normally guarantees a valid stem; with encoding disabled the
	// display name passes through raw and may not be storable.
	if err := naming.ValidateFileName(stem); err != nil {
		r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
		return
	}

	attrs := r.persistedAttributes(node)
	mw := r.chooseMiddleware(node, old)
	var newPaths []string

	switch mw {
	case middleware.NameDir:
		newPaths = r.emitDir(node, old, dir, stem, attrs)
	case middleware.NameJSONModel:
		path := filepath.Join(dir, stem+middlewareExt[mw])
		model := r.buildJSONModel(node, attrs, true)
		contents, err := marshalOrdered(model)
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
			return
		}
		r.fs.AddFile(path, contents)
		newPaths = append(newPaths, path)
		newPaths = r.emitSidecar(node, dir, stem, nil, nil, newPaths)
	case middleware.NameBinaryModel:
		path := filepath.Join(dir, stem+middlewareExt[mw])
		contents, err := r.opts.codec().Encode(nodeAsSnapshot(node))
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
			return
		}
		r.fs.AddFile(path, contents)
		newPaths = append(newPaths, path)
		leftover := r.leftoverProperties(node, "Contents", "ContentsHash")
		newPaths = r.emitSidecar(node, dir, stem, leftover, attrs, newPaths)
	case middleware.NameText:
		path := filepath.Join(dir, stem+middlewareExt[mw])
		r.fs.AddFile(path, []byte(stringProp(node, "Value")))
		newPaths = append(newPaths, path)
		leftover := r.leftoverProperties(node, "Value")
		newPaths = r.emitSidecar(node, dir, stem, leftover, attrs, newPaths)
	default:
		// Script and data formats all store their body in Source.
		path := filepath.Join(dir, stem+middlewareExt[mw])
		r.fs.AddFile(path, []byte(stringProp(node, "Source")))
		newPaths = append(newPaths, path)
		leftover := r.leftoverProperties(node, "Source")
		newPaths = r.emitSidecar(node, dir, stem, leftover, attrs, newPaths)
	}

	if old != nil {
		produced := make(map[string]struct{}, len(newPaths))
		for _, p := range newPaths {
			produced[p] = struct{}{}
		}
		for _, p := range old.Metadata.RelevantPaths {
			if _, ok := produced[p]; !ok {
				r.fs.AddDelete(p)
			}
		}
	}
}

// emitDir writes a directory instance: the directory itself, an init file
// describing the instance when needed, and the children inside.
func (r *runner) emitDir(node *snapshot.Node, old *snapshot.Snapshot, dir, stem string, attrs instance.Attributes) []string {
	path := filepath.Join(dir, stem)
	r.fs.AddDir(path)
	newPaths := []string{path}

	var leftover map[string]json.RawMessage
	if initFile, isScript := scriptClassInit[node.ClassName]; isScript {
		initPath := filepath.Join(path, initFile)
		r.fs.AddFile(initPath, []byte(stringProp(node, "Source")))
		newPaths = append(newPaths, initPath)
		leftover = r.leftoverProperties(node, "Source")
	} else {
		leftover = r.leftoverProperties(node)
	}

	meta := map[string]json.RawMessage{}
	if stem != node.Name {
		meta["name"] = mustJSON(node.Name)
	}
	if _, isScript := scriptClassInit[node.ClassName]; !isScript && node.ClassName != "Folder" {
		meta["className"] = mustJSON(node.ClassName)
	}
	if len(leftover) > 0 {
		meta["properties"] = mustJSON(leftover)
	}
	if len(attrs) > 0 {
		encoded, err := encodeAttributes(attrs)
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
		} else {
			meta["attributes"] = mustJSON(encoded)
		}
	}
	if node.Metadata.IgnoreUnknownInstances {
		meta["ignoreUnknownInstances"] = mustJSON(true)
	}
	if len(meta) > 0 {
		contents, err := marshalOrdered(meta)
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
		} else {
			initMetaPath := filepath.Join(path, "init.meta.json")
			r.fs.AddFile(initMetaPath, contents)
			newPaths = append(newPaths, initMetaPath)
		}
	}

	var oldChild *snapshot.Snapshot
	if old != nil && old.Metadata.Middleware == middleware.NameDir {
		oldChild = old
	}
	r.syncChildren(node, oldChild, path, false)
	return newPaths
}

// emitSidecar writes "<stem>.meta.json" when the node needs one: a display
// name that differs from the stem, properties the primary format cannot
// hold, attributes, or the ignore-unknown flag. A node needing none of
// those gets no sidecar at all.
func (r *runner) emitSidecar(node *snapshot.Node, dir, stem string, leftover map[string]json.RawMessage, attrs instance.Attributes, newPaths []string) []string {
	meta := map[string]json.RawMessage{}
	if stem != node.Name {
		meta["name"] = mustJSON(node.Name)
	}
	if len(leftover) > 0 {
		meta["properties"] = mustJSON(leftover)
	}
	if len(attrs) > 0 {
		encoded, err := encodeAttributes(attrs)
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
			return newPaths
		}
		meta["attributes"] = mustJSON(encoded)
	}
	if node.Metadata.IgnoreUnknownInstances {
		meta["ignoreUnknownInstances"] = mustJSON(true)
	}
	if len(meta) == 0 {
		return newPaths
	}

	contents, err := marshalOrdered(meta)
	if err != nil {
		r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
		return newPaths
	}
	path := filepath.Join(dir, stem+".meta.json")
	r.fs.AddFile(path, contents)
	return append(newPaths, path)
}

// chooseMiddleware picks the output format: the previous on-disk format
// when it can still represent the node, a derived one otherwise.
func (r *runner) chooseMiddleware(node *snapshot.Node, old *snapshot.Snapshot) string {
	hasChildren := len(node.Children) > 0
	if old != nil && canRepresent(old.Metadata.Middleware, node, hasChildren) {
		return old.Metadata.Middleware
	}
	return deriveMiddleware(node, hasChildren)
}

func canRepresent(mw string, node *snapshot.Node, hasChildren bool) bool {
	switch mw {
	case middleware.NameDir, middleware.NameJSONModel:
		return true
	case middleware.NameServerScript:
		return node.ClassName == "Script" && !hasChildren
	case middleware.NameClientScript:
		return node.ClassName == "LocalScript" && !hasChildren
	case middleware.NameModuleScript, middleware.NameJSON, middleware.NameTOML, middleware.NameYAML:
		return node.ClassName == "ModuleScript" && !hasChildren
	case middleware.NameText:
		return node.ClassName == "StringValue" && !hasChildren
	case middleware.NameBinaryModel:
		_, hasBlob := node.Properties["Contents"].(instance.Binary)
		return hasBlob && !hasChildren
	}
	return false
}

func deriveMiddleware(node *snapshot.Node, hasChildren bool) string {
	switch node.ClassName {
	case "Script", "LocalScript", "ModuleScript":
		if hasChildren {
			return middleware.NameDir
		}
		switch node.Metadata.Middleware {
		case middleware.NameJSON, middleware.NameTOML, middleware.NameYAML:
			return node.Metadata.Middleware
		}
		switch node.ClassName {
		case "Script":
			return middleware.NameServerScript
		case "LocalScript":
			return middleware.NameClientScript
		}
		return middleware.NameModuleScript
	case "Folder":
		return middleware.NameDir
	case "StringValue":
		if !hasChildren {
			return middleware.NameText
		}
		return middleware.NameJSONModel
	}
	if _, hasBlob := node.Properties["Contents"].(instance.Binary); hasBlob && !hasChildren {
		return middleware.NameBinaryModel
	}
	if hasChildren {
		return middleware.NameDir
	}
	return middleware.NameJSONModel
}

// buildJSONModel renders a node subtree as a nested model document. The
// root's name lives in the filename; nested children carry theirs in the
// document.
func (r *runner) buildJSONModel(node *snapshot.Node, attrs instance.Attributes, isRoot bool) middleware.JSONModel {
	model := middleware.JSONModel{ClassName: node.ClassName}
	if !isRoot {
		model.Name = node.Name
	}

	props := r.leftoverProperties(node)
	if len(props) > 0 {
		model.Properties = props
	}
	if len(attrs) > 0 {
		encoded, err := encodeAttributes(attrs)
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
		} else {
			model.Attributes = encoded
		}
	}

	for _, child := range r.tree.ChildNodes(node.ID) {
		childAttrs := r.persistedAttributes(child)
		model.Children = append(model.Children, r.buildJSONModel(child, childAttrs, false))
		r.stats.InstancesProcessed++
	}
	return model
}

// persistedAttributes is the attribute map written for a node, including
// reference path attributes when the policy syncs refs. Stored reference
// strings invalidated by a rename are replaced from the rewrite plan; a
// value recomputed from the live tree is already correct and left alone.
func (r *runner) persistedAttributes(node *snapshot.Node) instance.Attributes {
	var attrs instance.Attributes
	if r.opts.Policy.SyncRefs {
		attrs = collectRefAttributes(r.tree, node, r.errs)
	} else {
		attrs = instance.Attributes{}
		for k, v := range node.Attributes() {
			attrs[k] = v
		}
	}
	for name, rw := range r.refRewrites[node.ID] {
		if cur, ok := attrs[name].(instance.String); ok && cur == rw.stale {
			attrs[name] = rw.fresh
		}
	}
	return attrs
}

// leftoverProperties encodes the properties the primary format does not
// consume. Reference values never persist directly (they become path
// attributes) and the attribute map is handled separately.
func (r *runner) leftoverProperties(node *snapshot.Node, consumed ...string) map[string]json.RawMessage {
	skip := map[string]struct{}{"Attributes": {}}
	for _, name := range consumed {
		skip[name] = struct{}{}
	}

	out := map[string]json.RawMessage{}
	for name, v := range node.Properties {
		if _, ok := skip[name]; ok {
			continue
		}
		if _, isRef := v.(instance.RefValue); isRef {
			continue
		}
		raw, err := instance.EncodeValueJSON(v)
		if err != nil {
			r.errs.Append(rberrors.NewInstanceError("syncback", err).WithInstance(node.ID, node.Name))
			continue
		}
		out[name] = raw
	}
	return out
}

func encodeAttributes(attrs instance.Attributes) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(attrs))
	for name, v := range attrs {
		raw, err := instance.EncodeValueJSON(v)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return out, nil
}

func stringProp(node *snapshot.Node, name string) string {
	if v, ok := node.Properties[name].(instance.String); ok {
		return string(v)
	}
	return ""
}

func nodeAsSnapshot(node *snapshot.Node) *snapshot.Snapshot {
	snap := snapshot.New(node.Name, node.ClassName)
	for name, v := range node.Properties {
		snap.Properties[name] = v
	}
	return snap
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
