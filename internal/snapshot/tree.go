package snapshot

import (
	"fmt"
	"strings"

	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/refpath"
)

// Node is one instance in the authoritative live tree.
type Node struct {
	ID         instance.Ref
	Name       string
	ClassName  string
	Properties map[string]instance.Value
	Parent     instance.Ref
	Children   []instance.Ref
	Metadata   Metadata
}

// Attributes returns the node's attribute map, or nil when it has none.
func (n *Node) Attributes() instance.Attributes {
	if v, ok := n.Properties["Attributes"]; ok {
		if attrs, ok := v.(instance.Attributes); ok {
			return attrs
		}
	}
	return nil
}

// ensureAttributes returns a mutable attribute map stored on the node.
func (n *Node) ensureAttributes() instance.Attributes {
	if attrs := n.Attributes(); attrs != nil {
		return attrs
	}
	if n.Properties == nil {
		n.Properties = make(map[string]instance.Value)
	}
	attrs := instance.Attributes{}
	n.Properties["Attributes"] = attrs
	return attrs
}

// Tree is the authoritative instance tree. It is plain data guarded by the
// session's lock; the tree itself does no synchronization.
//
// Parent links form the ownership graph and stay acyclic. Reference
// properties are weak relations resolved by lookup, never traversal, so
// they are free to form cycles.
type Tree struct {
	root  instance.Ref
	nodes map[instance.Ref]*Node
}

// NewTree creates a tree with a single root node.
func NewTree(rootName, rootClass string) *Tree {
	root := &Node{
		ID:         instance.NewRef(),
		Name:       rootName,
		ClassName:  rootClass,
		Properties: make(map[string]instance.Value),
	}
	return &Tree{
		root:  root.ID,
		nodes: map[instance.Ref]*Node{root.ID: root},
	}
}

// Root returns the root node's id.
func (t *Tree) Root() instance.Ref {
	return t.root
}

// Get returns the node with the given id, or nil.
func (t *Tree) Get(id instance.Ref) *Node {
	return t.nodes[id]
}

// Len returns the number of nodes including the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Insert adds node under parent, appending to the parent's child order.
func (t *Tree) Insert(parent instance.Ref, node *Node) error {
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("insert %q: parent %s not in tree", node.Name, parent)
	}
	if node.ID.IsNone() {
		node.ID = instance.NewRef()
	}
	if _, exists := t.nodes[node.ID]; exists {
		return fmt.Errorf("insert %q: id %s already in tree", node.Name, node.ID)
	}
	if node.Properties == nil {
		node.Properties = make(map[string]instance.Value)
	}
	node.Parent = parent
	t.nodes[node.ID] = node
	p.Children = append(p.Children, node.ID)
	return nil
}

// Remove deletes the node and its whole subtree. Removing the root is an
// error. Returns the ids removed, depth-first.
func (t *Tree) Remove(id instance.Ref) ([]instance.Ref, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("remove: id %s not in tree", id)
	}
	if id == t.root {
		return nil, fmt.Errorf("remove: cannot remove the root")
	}

	parent := t.nodes[node.Parent]
	for i, child := range parent.Children {
		if child == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}

	var removed []instance.Ref
	var walk func(instance.Ref)
	walk = func(cur instance.Ref) {
		n := t.nodes[cur]
		for _, child := range n.Children {
			walk(child)
		}
		delete(t.nodes, cur)
		removed = append(removed, cur)
	}
	walk(id)
	return removed, nil
}

// ChildNodes returns the ordered child nodes of id.
func (t *Tree) ChildNodes(id instance.Ref) []*Node {
	node, ok := t.nodes[id]
	if !ok {
		return nil
	}
	children := make([]*Node, 0, len(node.Children))
	for _, child := range node.Children {
		children = append(children, t.nodes[child])
	}
	return children
}

// RefPathTo returns the absolute reference path of id: the escaped names
// from just below the root down to the node. The root itself has the empty
// path.
func (t *Tree) RefPathTo(id instance.Ref) (string, bool) {
	var segments []string
	for cur := id; cur != t.root; {
		node, ok := t.nodes[cur]
		if !ok {
			return "", false
		}
		segments = append(segments, node.Name)
		cur = node.Parent
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return refpath.Join(segments), true
}

// ResolveRefPath walks an absolute reference path from the root. Segment
// lookup prefers an exact name match; failing that, a unique
// case-insensitive match is accepted to tolerate OS case folding. An
// ambiguous case-insensitive match resolves to nothing.
func (t *Tree) ResolveRefPath(abs string) (instance.Ref, bool) {
	cur := t.root
	if abs == "" {
		return cur, true
	}
	for _, segment := range refpath.Split(abs) {
		next, ok := t.resolveChild(cur, segment)
		if !ok {
			return instance.NoneRef, false
		}
		cur = next
	}
	return cur, true
}

func (t *Tree) resolveChild(parent instance.Ref, name string) (instance.Ref, bool) {
	node, ok := t.nodes[parent]
	if !ok {
		return instance.NoneRef, false
	}
	for _, child := range node.Children {
		if t.nodes[child].Name == name {
			return child, true
		}
	}
	found := instance.NoneRef
	for _, child := range node.Children {
		if refpath.SegmentsEqualFold(t.nodes[child].Name, name) {
			if !found.IsNone() {
				return instance.NoneRef, false
			}
			found = child
		}
	}
	if found.IsNone() {
		return instance.NoneRef, false
	}
	return found, true
}

// Signature returns the identity signature of a node for cross-tree
// reference comparison.
func (t *Tree) Signature(id instance.Ref) (name, class string, ok bool) {
	node, found := t.nodes[id]
	if !found {
		return "", "", false
	}
	return node.Name, node.ClassName, true
}

// DebugString renders the tree as an indented listing, for test failure
// output.
func (t *Tree) DebugString() string {
	var b strings.Builder
	var walk func(id instance.Ref, depth int)
	walk = func(id instance.Ref, depth int) {
		node := t.nodes[id]
		fmt.Fprintf(&b, "%s%s (%s)\n", strings.Repeat("  ", depth), node.Name, node.ClassName)
		for _, child := range node.Children {
			walk(child, depth+1)
		}
	}
	walk(t.root, 0)
	return b.String()
}
