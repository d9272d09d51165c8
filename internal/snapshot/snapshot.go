// Package snapshot defines the virtual instance snapshot produced from
// files, the authoritative live tree, and the patch computation and
// application that reconcile the two.
package snapshot

import (
	"sort"

	"github.com/rbxsync/rbxsync/internal/instance"
)

// Metadata records how a snapshot node maps back to the filesystem.
type Metadata struct {
	// InstigatingSource is the path (or project node) whose change event
	// causes this instance to be re-snapshotted.
	InstigatingSource string
	// RelevantPaths lists every file contributing to this instance: the
	// primary file plus sidecars and init files.
	RelevantPaths []string
	// Middleware names the format handler that produced this node.
	Middleware string
	// IgnoreUnknownInstances leaves live-only children in place instead of
	// removing them during reconcile.
	IgnoreUnknownInstances bool
}

// Snapshot is one node of a virtual tree built from files. IDs are
// ephemeral handles assigned at build time; they never persist across
// builds.
type Snapshot struct {
	ID         instance.Ref
	Name       string
	ClassName  string
	Properties map[string]instance.Value
	Children   []*Snapshot
	Metadata   Metadata
}

// New creates a snapshot node with a fresh id.
func New(name, className string) *Snapshot {
	return &Snapshot{
		ID:         instance.NewRef(),
		Name:       name,
		ClassName:  className,
		Properties: make(map[string]instance.Value),
	}
}

// WithProperty sets a property and returns the snapshot for chaining
// during construction.
func (s *Snapshot) WithProperty(name string, v instance.Value) *Snapshot {
	s.Properties[name] = v
	return s
}

// WithChildren appends children and returns the snapshot.
func (s *Snapshot) WithChildren(children ...*Snapshot) *Snapshot {
	s.Children = append(s.Children, children...)
	return s
}

// Attributes returns the snapshot's attribute map, or nil.
func (s *Snapshot) Attributes() instance.Attributes {
	if v, ok := s.Properties["Attributes"]; ok {
		if attrs, ok := v.(instance.Attributes); ok {
			return attrs
		}
	}
	return nil
}

// Walk visits the snapshot and every descendant, parents before children.
func (s *Snapshot) Walk(visit func(*Snapshot)) {
	visit(s)
	for _, child := range s.Children {
		child.Walk(visit)
	}
}

// Count returns the number of nodes in the subtree including s.
func (s *Snapshot) Count() int {
	n := 0
	s.Walk(func(*Snapshot) { n++ })
	return n
}

// SortPropertyNames returns the property names in sorted order, for
// deterministic iteration where output order matters.
func SortPropertyNames(props map[string]instance.Value) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
