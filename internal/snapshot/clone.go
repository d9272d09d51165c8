package snapshot

import (
	"fmt"

	"github.com/rbxsync/rbxsync/internal/instance"
)

// Clone returns a deep copy sharing no mutable state with the original.
// Node ids are preserved, so a patch computed against the clone applies
// cleanly to the tree it was cloned from.
func (t *Tree) Clone() *Tree {
	clone := &Tree{
		root:  t.root,
		nodes: make(map[instance.Ref]*Node, len(t.nodes)),
	}
	for id, node := range t.nodes {
		copied := &Node{
			ID:        node.ID,
			Name:      node.Name,
			ClassName: node.ClassName,
			Parent:    node.Parent,
			Children:  append([]instance.Ref(nil), node.Children...),
			Metadata:  node.Metadata,
		}
		copied.Metadata.RelevantPaths = append([]string(nil), node.Metadata.RelevantPaths...)
		copied.Properties = make(map[string]instance.Value, len(node.Properties))
		for name, v := range node.Properties {
			copied.Properties[name] = cloneValue(v)
		}
		clone.nodes[id] = copied
	}
	return clone
}

func cloneValue(v instance.Value) instance.Value {
	switch val := v.(type) {
	case instance.Attributes:
		out := make(instance.Attributes, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case instance.Tags:
		return append(instance.Tags(nil), val...)
	case instance.Binary:
		return append(instance.Binary(nil), val...)
	default:
		// Remaining kinds are value types.
		return v
	}
}

// SnapshotOf converts the subtree rooted at id into a detached snapshot.
func (t *Tree) SnapshotOf(id instance.Ref) (*Snapshot, error) {
	node := t.nodes[id]
	if node == nil {
		return nil, fmt.Errorf("snapshot of %s: not in tree", id)
	}
	snap := &Snapshot{
		ID:        node.ID,
		Name:      node.Name,
		ClassName: node.ClassName,
		Metadata:  node.Metadata,
	}
	if len(node.Properties) > 0 {
		snap.Properties = make(map[string]instance.Value, len(node.Properties))
		for name, v := range node.Properties {
			snap.Properties[name] = cloneValue(v)
		}
	}
	for _, childID := range node.Children {
		child, err := t.SnapshotOf(childID)
		if err != nil {
			return nil, err
		}
		snap.Children = append(snap.Children, child)
	}
	return snap, nil
}
