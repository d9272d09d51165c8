package snapshot

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/refpath"
)

func TestComputeEmptyForIdenticalTrees(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	part := mustInsert(t, tree, ws.ID, "Part", "Part")
	part.Properties["Size"] = instance.Vector3{X: 4, Y: 1, Z: 2}

	snap := New("Workspace", "Workspace").WithChildren(
		New("Part", "Part").WithProperty("Size", instance.Vector3{X: 4, Y: 1, Z: 2}),
	)

	patch, err := Compute(snap, tree, ws.ID, instance.LiveEquality)
	require.NoError(t, err)
	assert.True(t, patch.IsEmpty(), "patch: %s", patch.Summary())
}

func TestComputeAddRemoveUpdate(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	keep := mustInsert(t, tree, ws.ID, "Keep", "Part")
	keep.Properties["Transparency"] = instance.Float64(0)
	gone := mustInsert(t, tree, ws.ID, "Gone", "Part")

	snap := New("Workspace", "Workspace").WithChildren(
		New("Keep", "Part").WithProperty("Transparency", instance.Float64(0.5)),
		New("Fresh", "Folder"),
	)

	patch, err := Compute(snap, tree, ws.ID, instance.LiveEquality)
	require.NoError(t, err)

	require.Len(t, patch.Added, 1)
	assert.Equal(t, "Fresh", patch.Added[0].Snapshot.Name)
	assert.Equal(t, ws.ID, patch.Added[0].Parent)

	require.Len(t, patch.Removed, 1)
	assert.Equal(t, gone.ID, patch.Removed[0])

	require.Len(t, patch.Updated, 1)
	assert.Equal(t, keep.ID, patch.Updated[0].ID)
	assert.Equal(t, instance.Float64(0.5), patch.Updated[0].ChangedProperties["Transparency"])
}

func TestComputeRespectsIgnoreUnknownInstances(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	mustInsert(t, tree, ws.ID, "LiveOnly", "Part")

	snap := New("Workspace", "Workspace")
	snap.Metadata.IgnoreUnknownInstances = true

	patch, err := Compute(snap, tree, ws.ID, instance.LiveEquality)
	require.NoError(t, err)
	assert.Empty(t, patch.Removed)
}

func TestComputeMatchesSameNamedSiblingsByContent(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	red := mustInsert(t, tree, ws.ID, "Part", "Part")
	red.Properties["Color"] = instance.Color3{R: 1}
	green := mustInsert(t, tree, ws.ID, "Part", "Part")
	green.Properties["Color"] = instance.Color3{G: 1}

	// Reversed sibling order relative to the live tree.
	snap := New("Workspace", "Workspace").WithChildren(
		New("Part", "Part").WithProperty("Color", instance.Color3{G: 1}),
		New("Part", "Part").WithProperty("Color", instance.Color3{R: 1}),
	)

	patch, err := Compute(snap, tree, ws.ID, instance.LiveEquality)
	require.NoError(t, err)
	assert.True(t, patch.IsEmpty(), "order-only difference must not produce changes: %s", patch.Summary())
}

func TestApplyAddInsertsParentFirst(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")

	snap := New("Model", "Model").WithChildren(
		New("Part", "Part"),
		New("Sub", "Folder").WithChildren(New("Deep", "Part")),
	)
	patch := &PatchSet{Added: []AddedInstance{{Parent: ws.ID, Snapshot: snap}}}

	result, err := Apply(tree, patch, nil)
	require.NoError(t, err)
	assert.Len(t, result.Created, 4)

	modelID := result.Created[snap.ID]
	model := tree.Get(modelID)
	require.NotNil(t, model)
	assert.Equal(t, ws.ID, model.Parent)
	assert.Len(t, model.Children, 2)
}

func TestApplyFailedAddSkipsSubtreeNotSiblings(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")

	bad := New("Bad", "NoSuchClass").WithChildren(New("Inner", "Part"))
	good := New("Good", "Part")
	patch := &PatchSet{Added: []AddedInstance{
		{Parent: ws.ID, Snapshot: bad},
		{Parent: ws.ID, Snapshot: good},
	}}

	validator := func(className string) error {
		if className == "NoSuchClass" {
			return fmt.Errorf("unknown class %q", className)
		}
		return nil
	}

	result, err := Apply(tree, patch, validator)
	require.Error(t, err)
	var multi *rberrors.MultiError
	require.True(t, errors.As(err, &multi))
	assert.Len(t, multi.Errors, 1)

	// The valid sibling still landed.
	assert.Contains(t, result.Created, good.ID)
	assert.NotContains(t, result.Created, bad.ID)
	assert.Len(t, tree.Get(ws.ID).Children, 1)
}

func TestApplyUpdateClearsNilProperties(t *testing.T) {
	tree := NewTree("game", "DataModel")
	part := mustInsert(t, tree, tree.Root(), "Part", "Part")
	part.Properties["Transparency"] = instance.Float64(1)

	newName := "Renamed"
	patch := &PatchSet{Updated: []UpdatedInstance{{
		ID:                part.ID,
		ChangedName:       &newName,
		ChangedProperties: map[string]instance.Value{"Transparency": nil},
	}}}

	_, err := Apply(tree, patch, nil)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", part.Name)
	assert.NotContains(t, part.Properties, "Transparency")
}

func TestApplyResolvesPathRefsAddedInSamePatch(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")

	// The model references a primary part that is added by the same
	// patch, so resolution must run after all insertions.
	model := New("Model", "Model").
		WithProperty("Attributes", instance.Attributes{
			refpath.RefAttributeName("PrimaryPart"): instance.String("@self/Part"),
		}).
		WithChildren(New("Part", "Part"))
	patch := &PatchSet{Added: []AddedInstance{{Parent: ws.ID, Snapshot: model}}}

	result, err := Apply(tree, patch, nil)
	require.NoError(t, err)

	modelNode := tree.Get(result.Created[model.ID])
	partNode := tree.Get(result.Created[model.Children[0].ID])
	require.NotNil(t, modelNode)
	require.NotNil(t, partNode)

	ref, ok := modelNode.Properties["PrimaryPart"].(instance.RefValue)
	require.True(t, ok, "PrimaryPart must be a resolved reference")
	assert.Equal(t, partNode.ID, instance.Ref(ref))

	// Bookkeeping attribute cleaned up after resolution.
	assert.NotContains(t, modelNode.Attributes(), refpath.RefAttributeName("PrimaryPart"))
}

func TestApplyPathRefWinsOverIDRef(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")

	byID := mustInsert(t, tree, ws.ID, "ByID", "Part")
	byID.Properties["Attributes"] = instance.Attributes{
		refpath.RefIDAttribute: instance.String("target-1"),
	}
	byPath := mustInsert(t, tree, ws.ID, "ByPath", "Part")

	holder := mustInsert(t, tree, ws.ID, "Holder", "Model")
	holder.Properties["Attributes"] = instance.Attributes{
		refpath.RefTargetAttributeName("PrimaryPart"): instance.String("target-1"),
		refpath.RefAttributeName("PrimaryPart"):       instance.String("./ByPath"),
	}

	_, err := Apply(tree, &PatchSet{}, nil)
	require.NoError(t, err)

	ref, ok := holder.Properties["PrimaryPart"].(instance.RefValue)
	require.True(t, ok)
	assert.Equal(t, byPath.ID, instance.Ref(ref), "path-based scheme is authoritative")
}

func TestApplyDanglingRefLeavesPropertyUnset(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	holder := mustInsert(t, tree, ws.ID, "Holder", "Model")
	holder.Properties["Attributes"] = instance.Attributes{
		refpath.RefAttributeName("PrimaryPart"): instance.String("@root/Nowhere/AtAll"),
	}
	good := mustInsert(t, tree, ws.ID, "Good", "Part")

	snap := New("Workspace", "Workspace").WithChildren(
		New("Holder", "Model").WithProperty("Attributes", instance.Attributes{
			refpath.RefAttributeName("PrimaryPart"): instance.String("@root/Nowhere/AtAll"),
		}),
		New("Good", "Part").WithProperty("Transparency", instance.Float64(0.5)),
	)
	patch, err := Compute(snap, tree, ws.ID, instance.LiveEquality)
	require.NoError(t, err)

	_, err = Apply(tree, patch, nil)
	require.Error(t, err, "dangling ref reported")
	var refErr *rberrors.RefError
	require.True(t, errors.As(err, &refErr))

	// The rest of the patch still applied.
	assert.Equal(t, instance.Float64(0.5), good.Properties["Transparency"])
	assert.NotContains(t, holder.Properties, "PrimaryPart")
	// The attribute survives for a later retry once the target appears.
	assert.Contains(t, holder.Attributes(), refpath.RefAttributeName("PrimaryPart"))
}

func TestApplyRemapsSnapshotInternalRefs(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")

	part := New("Part", "Part")
	model := New("Model", "Model").
		WithProperty("PrimaryPart", instance.RefValue(part.ID)).
		WithChildren(part)
	patch := &PatchSet{Added: []AddedInstance{{Parent: ws.ID, Snapshot: model}}}

	result, err := Apply(tree, patch, nil)
	require.NoError(t, err)

	modelNode := tree.Get(result.Created[model.ID])
	ref := modelNode.Properties["PrimaryPart"].(instance.RefValue)
	assert.Equal(t, result.Created[part.ID], instance.Ref(ref))
}

func TestPatchSummary(t *testing.T) {
	empty := &PatchSet{}
	assert.Equal(t, "no changes", empty.Summary())

	patch := &PatchSet{
		Added:   []AddedInstance{{}},
		Removed: []instance.Ref{instance.NewRef()},
		Updated: []UpdatedInstance{{}, {}},
	}
	assert.Equal(t, "1 added, 1 removed, 2 updated", patch.Summary())
}

func TestApplyDanglingRefSuggestsClosestName(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	mustInsert(t, tree, ws.ID, "Hinge", "Part")

	door := New("Door", "Model").WithProperty("Attributes", instance.Attributes{
		refpath.RefAttributeName("PrimaryPart"): instance.String("@root/Workspace/Hige"),
	})
	patch := &PatchSet{Added: []AddedInstance{{Parent: ws.ID, Snapshot: door}}}

	_, err := Apply(tree, patch, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `closest is "Hinge"`)
}
