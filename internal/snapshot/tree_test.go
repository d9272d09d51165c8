package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbxsync/rbxsync/internal/instance"
)

func mustInsert(t *testing.T, tree *Tree, parent instance.Ref, name, class string) *Node {
	t.Helper()
	node := &Node{Name: name, ClassName: class}
	require.NoError(t, tree.Insert(parent, node))
	return node
}

func TestTreeInsertAndRemove(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	model := mustInsert(t, tree, ws.ID, "Model", "Model")
	mustInsert(t, tree, model.ID, "Part", "Part")
	require.Equal(t, 4, tree.Len())

	removed, err := tree.Remove(model.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Equal(t, 2, tree.Len())
	assert.Nil(t, tree.Get(model.ID))
	assert.Empty(t, tree.Get(ws.ID).Children)
}

func TestTreeRemoveRootFails(t *testing.T) {
	tree := NewTree("game", "DataModel")
	_, err := tree.Remove(tree.Root())
	assert.Error(t, err)
}

func TestTreeInsertUnknownParentFails(t *testing.T) {
	tree := NewTree("game", "DataModel")
	err := tree.Insert(instance.NewRef(), &Node{Name: "X", ClassName: "Folder"})
	assert.Error(t, err)
}

func TestRefPathToAndResolve(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	model := mustInsert(t, tree, ws.ID, "My Model", "Model")
	part := mustInsert(t, tree, model.ID, "Part", "Part")

	path, ok := tree.RefPathTo(part.ID)
	require.True(t, ok)
	assert.Equal(t, "Workspace/My Model/Part", path)

	resolved, ok := tree.ResolveRefPath(path)
	require.True(t, ok)
	assert.Equal(t, part.ID, resolved)

	rootPath, ok := tree.RefPathTo(tree.Root())
	require.True(t, ok)
	assert.Equal(t, "", rootPath)

	resolved, ok = tree.ResolveRefPath("")
	require.True(t, ok)
	assert.Equal(t, tree.Root(), resolved)
}

func TestRefPathEscapesSeparatorInNames(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	weird := mustInsert(t, tree, ws.ID, "A/B", "Folder")
	child := mustInsert(t, tree, weird.ID, "Leaf", "Part")

	path, ok := tree.RefPathTo(child.ID)
	require.True(t, ok)
	assert.Equal(t, `Workspace/A\/B/Leaf`, path)

	resolved, ok := tree.ResolveRefPath(path)
	require.True(t, ok)
	assert.Equal(t, child.ID, resolved)
}

func TestResolveRefPathCaseFolding(t *testing.T) {
	tree := NewTree("game", "DataModel")
	ws := mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	model := mustInsert(t, tree, ws.ID, "Model", "Model")

	resolved, ok := tree.ResolveRefPath("workspace/model")
	require.True(t, ok)
	assert.Equal(t, model.ID, resolved)

	// An exact match wins over a case-folded one.
	lower := mustInsert(t, tree, ws.ID, "model", "Model")
	resolved, ok = tree.ResolveRefPath("Workspace/model")
	require.True(t, ok)
	assert.Equal(t, lower.ID, resolved)

	// Two case-folded candidates and no exact match is ambiguous.
	_, ok = tree.ResolveRefPath("Workspace/MODEL")
	assert.False(t, ok)
}

func TestResolveRefPathMissing(t *testing.T) {
	tree := NewTree("game", "DataModel")
	mustInsert(t, tree, tree.Root(), "Workspace", "Workspace")
	_, ok := tree.ResolveRefPath("Workspace/Nope")
	assert.False(t, ok)
}
