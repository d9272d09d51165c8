package snapshot

import (
	"fmt"
	"strings"

	"github.com/rbxsync/rbxsync/internal/instance"
)

// AddedInstance is a subtree to insert under Parent.
type AddedInstance struct {
	Parent   instance.Ref
	Snapshot *Snapshot
}

// UpdatedInstance carries the changed fields of one live instance. Nil
// pointer fields are unchanged; a nil value in ChangedProperties clears
// that property.
type UpdatedInstance struct {
	ID                instance.Ref
	ChangedName       *string
	ChangedClassName  *string
	ChangedProperties map[string]instance.Value
	ChangedMetadata   *Metadata
}

// IsEmpty reports whether the update carries no changes.
func (u *UpdatedInstance) IsEmpty() bool {
	return u.ChangedName == nil && u.ChangedClassName == nil &&
		len(u.ChangedProperties) == 0 && u.ChangedMetadata == nil
}

// PatchSet is the disjoint difference between a virtual snapshot and the
// live tree: every touched instance appears in exactly one of the three
// lists.
type PatchSet struct {
	Added   []AddedInstance
	Removed []instance.Ref
	Updated []UpdatedInstance
}

// IsEmpty reports whether applying the patch set would change nothing.
func (p *PatchSet) IsEmpty() bool {
	return len(p.Added) == 0 && len(p.Removed) == 0 && len(p.Updated) == 0
}

// Summary renders a short human-readable description for logs.
func (p *PatchSet) Summary() string {
	if p.IsEmpty() {
		return "no changes"
	}
	var parts []string
	if n := len(p.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}
	if n := len(p.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	if n := len(p.Updated); n > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", n))
	}
	return strings.Join(parts, ", ")
}
