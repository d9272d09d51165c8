package syncback

import (
	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/refpath"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// collectRefAttributes builds the attribute map to persist for one node:
// its plain attributes, minus stale bookkeeping entries, plus a path
// attribute for every reference-valued property.
//
// A reference whose target is outside the tree keeps its previously stored
// path attribute when one exists (the target may live outside the synced
// subtree); with nothing to preserve it is reported as dangling. An
// ambiguous path (duplicate-named siblings in the target's ancestry) is
// still written best-effort, with a warning.
func collectRefAttributes(tree *snapshot.Tree, node *snapshot.Node, errs *rberrors.MultiError) instance.Attributes {
	attrs := instance.Attributes{}
	for k, v := range node.Attributes() {
		attrs[k] = v
	}

	sourceAbs, _ := tree.RefPathTo(node.ID)

	for prop, v := range node.Properties {
		ref, ok := v.(instance.RefValue)
		if !ok {
			continue
		}
		attrName := refpath.RefAttributeName(prop)
		target := instance.Ref(ref)
		if target.IsNone() {
			delete(attrs, attrName)
			continue
		}

		targetAbs, ok := tree.RefPathTo(target)
		if !ok {
			if _, preserved := attrs[attrName]; preserved {
				// The stored path points outside this tree; keep it.
				continue
			}
			errs.Append(rberrors.NewDanglingRefError(node.Name, prop, target.String()))
			continue
		}

		rel := refpath.ComputeRelative(sourceAbs, targetAbs)
		attrs[attrName] = instance.String(rel)

		if pathIsAmbiguous(tree, target) {
			errs.Append(rberrors.NewAmbiguousRefError(node.Name, prop, targetAbs).
				WithDetail("duplicate-named siblings along the target path; resolution may pick the wrong instance"))
		}
	}
	return attrs
}

// pathIsAmbiguous reports whether any ancestor of target (target included)
// shares its name with a sibling, which makes the stored path non-unique.
func pathIsAmbiguous(tree *snapshot.Tree, target instance.Ref) bool {
	for cur := target; ; {
		node := tree.Get(cur)
		if node == nil || node.Parent.IsNone() {
			return false
		}
		count := 0
		for _, sibling := range tree.ChildNodes(node.Parent) {
			if sibling.Name == node.Name {
				count++
			}
		}
		if count > 1 {
			return true
		}
		cur = node.Parent
		if cur == tree.Root() {
			return false
		}
	}
}
