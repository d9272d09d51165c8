package snapshot

import (
	"fmt"
	"strings"

	"github.com/rbxsync/rbxsync/internal/debug"
	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/refpath"
)

// ApplyResult reports what one patch application did.
type ApplyResult struct {
	// Created maps each added snapshot's ephemeral id to the real id it
	// received in the tree.
	Created map[instance.Ref]instance.Ref
	Removed []instance.Ref
	Updated []instance.Ref
}

// ClassValidator rejects instances a live engine could not create. A nil
// validator accepts everything.
type ClassValidator func(className string) error

// Apply commits a patch set to the tree. Removals first, then additions
// parent-first, then field updates, then a deferred pass that resolves
// reference-valued properties once every instance added or renamed in this
// patch is in place.
//
// Per-instance failures are collected and returned in aggregate; one bad
// instance never blocks the rest of the patch. Dangling references are
// logged and the property left unset.
func Apply(tree *Tree, patch *PatchSet, validate ClassValidator) (*ApplyResult, error) {
	result := &ApplyResult{Created: make(map[instance.Ref]instance.Ref)}
	errs := &rberrors.MultiError{}

	for _, id := range patch.Removed {
		removed, err := tree.Remove(id)
		if err != nil {
			errs.Append(rberrors.NewInstanceError("remove", err).WithInstance(id, ""))
			continue
		}
		result.Removed = append(result.Removed, removed...)
	}

	for _, add := range patch.Added {
		applyAdd(tree, add.Parent, add.Snapshot, validate, result, errs)
	}

	for _, update := range patch.Updated {
		node := tree.Get(update.ID)
		if node == nil {
			errs.Append(rberrors.NewInstanceError("update", errNotInTree).WithInstance(update.ID, ""))
			continue
		}
		applyUpdate(node, update)
		result.Updated = append(result.Updated, update.ID)
	}

	resolveReferences(tree, result, errs)

	debug.LogPatch("applied patch: %d created, %d removed, %d updated\n",
		len(result.Created), len(result.Removed), len(result.Updated))
	return result, errs.ErrorOrNil()
}

type notInTreeError struct{}

func (notInTreeError) Error() string { return "instance not in tree" }

var errNotInTree = notInTreeError{}

// applyAdd inserts one snapshot subtree, parents before children. A failed
// parent skips its descendants; a failed sibling does not.
func applyAdd(tree *Tree, parent instance.Ref, snap *Snapshot, validate ClassValidator, result *ApplyResult, errs *rberrors.MultiError) {
	if validate != nil {
		if err := validate(snap.ClassName); err != nil {
			errs.Append(rberrors.NewInstanceError("add", err).WithInstance(snap.ID, snap.Name))
			return
		}
	}

	node := &Node{
		Name:       snap.Name,
		ClassName:  snap.ClassName,
		Properties: make(map[string]instance.Value, len(snap.Properties)),
		Metadata:   snap.Metadata,
	}
	for name, v := range snap.Properties {
		node.Properties[name] = v
	}
	if err := tree.Insert(parent, node); err != nil {
		errs.Append(rberrors.NewInstanceError("add", err).WithInstance(snap.ID, snap.Name))
		return
	}
	result.Created[snap.ID] = node.ID

	for _, child := range snap.Children {
		applyAdd(tree, node.ID, child, validate, result, errs)
	}
}

func applyUpdate(node *Node, update UpdatedInstance) {
	if update.ChangedName != nil {
		node.Name = *update.ChangedName
	}
	if update.ChangedClassName != nil {
		node.ClassName = *update.ChangedClassName
	}
	for name, v := range update.ChangedProperties {
		if v == nil {
			delete(node.Properties, name)
			continue
		}
		node.Properties[name] = v
	}
	if update.ChangedMetadata != nil {
		node.Metadata = *update.ChangedMetadata
	}
}

// resolveReferences is the deferred pass. It runs after all additions and
// renames so a reference to a sibling added in the same patch resolves.
//
// Three sources feed it, in increasing priority:
//  1. RefValue properties still holding snapshot-ephemeral ids, remapped
//     through result.Created.
//  2. Legacy id-based attributes (Sync_Target_*), resolved through each
//     node's Sync_Id attribute.
//  3. Path-based attributes (Sync_Ref_*). Path-based resolution is the
//     authoritative scheme: it runs last and overwrites whatever the
//     id-based scheme set for the same property. This ordering is load
//     bearing, not an accident of iteration.
func resolveReferences(tree *Tree, result *ApplyResult, errs *rberrors.MultiError) {
	idIndex := buildIDIndex(tree)

	for _, node := range tree.nodes {
		remapSnapshotRefs(node, result)

		attrs := node.Attributes()
		if len(attrs) == 0 {
			continue
		}

		var resolved []string
		for attrName, attrValue := range attrs {
			property, ok := strings.CutPrefix(attrName, refpath.RefTargetAttributePrefix)
			if !ok {
				continue
			}
			target, ok := resolveIDRef(idIndex, attrValue)
			if !ok {
				continue // the path-based scheme may still cover this property
			}
			node.Properties[property] = instance.RefValue(target)
			resolved = append(resolved, attrName)
		}

		for attrName, attrValue := range attrs {
			property, ok := strings.CutPrefix(attrName, refpath.RefAttributePrefix)
			if !ok {
				continue
			}
			target, err := resolvePathRef(tree, node, attrValue)
			if err != nil {
				errs.Append(err)
				// Leave the property at whatever the id-based pass set,
				// or unset. Never abort the patch for a dangling ref.
				continue
			}
			node.Properties[property] = instance.RefValue(target)
			resolved = append(resolved, attrName)
		}

		for _, attrName := range resolved {
			delete(attrs, attrName)
		}
		if len(attrs) == 0 {
			delete(node.Properties, "Attributes")
		}
	}
}

// remapSnapshotRefs rewrites RefValue properties that still point at
// snapshot-ephemeral ids created in this patch.
func remapSnapshotRefs(node *Node, result *ApplyResult) {
	for name, v := range node.Properties {
		ref, ok := v.(instance.RefValue)
		if !ok {
			continue
		}
		if real, created := result.Created[instance.Ref(ref)]; created {
			node.Properties[name] = instance.RefValue(real)
		}
	}
}

// buildIDIndex maps Sync_Id attribute values to node ids.
func buildIDIndex(tree *Tree) map[string]instance.Ref {
	index := make(map[string]instance.Ref)
	for id, node := range tree.nodes {
		attrs := node.Attributes()
		if len(attrs) == 0 {
			continue
		}
		if v, ok := attrs[refpath.RefIDAttribute]; ok {
			if s, ok := v.(instance.String); ok {
				index[string(s)] = id
			}
		}
	}
	return index
}

func resolveIDRef(index map[string]instance.Ref, attrValue instance.Value) (instance.Ref, bool) {
	s, ok := attrValue.(instance.String)
	if !ok {
		return instance.NoneRef, false
	}
	target, found := index[string(s)]
	return target, found
}

func resolvePathRef(tree *Tree, node *Node, attrValue instance.Value) (instance.Ref, error) {
	s, ok := attrValue.(instance.String)
	if !ok {
		return instance.NoneRef, rberrors.NewDanglingRefError(node.Name, "", "non-string reference attribute")
	}
	sourceAbs, ok := tree.RefPathTo(node.ID)
	if !ok {
		return instance.NoneRef, rberrors.NewDanglingRefError(node.Name, "", string(s))
	}
	abs, ok := refpath.ResolveToAbsolute(string(s), sourceAbs)
	if !ok {
		return instance.NoneRef, rberrors.NewDanglingRefError(node.Name, "", string(s))
	}
	target, ok := tree.ResolveRefPath(abs)
	if !ok {
		err := rberrors.NewDanglingRefError(node.Name, "", string(s))
		if hint := suggestForPath(tree, abs); hint != "" {
			err = err.WithDetail(hint)
		}
		return instance.NoneRef, err
	}
	return target, nil
}

// suggestForPath walks an unresolvable absolute path as far as it goes and
// names the nearest match for the first segment that fails.
func suggestForPath(tree *Tree, abs string) string {
	current := tree.Root()
	for _, segment := range refpath.Split(abs) {
		children := tree.ChildNodes(current)
		next := instance.NoneRef
		for _, child := range children {
			if child.Name == segment {
				next = child.ID
				break
			}
		}
		if next == instance.NoneRef {
			names := make([]string, len(children))
			for i, child := range children {
				names[i] = child.Name
			}
			if closest, ok := refpath.ClosestName(segment, names); ok {
				return fmt.Sprintf("no instance named %q here, closest is %q", segment, closest)
			}
			return ""
		}
		current = next
	}
	return ""
}
