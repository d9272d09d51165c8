package refpath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexFindByPrefix(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Model", "a.meta.json")
	ix.Add("Workspace/Model/Part", "b.meta.json")
	ix.Add("Workspace/ModelTwo", "c.meta.json")
	ix.Add("Lighting/Sky", "d.meta.json")

	got := ix.FindByPrefix("Workspace/Model")
	assert.Equal(t, []string{"a.meta.json", "b.meta.json"}, got)

	// "Workspace/ModelTwo" shares the string prefix but not the path prefix.
	assert.NotContains(t, got, "c.meta.json")
}

func TestIndexFindByPrefixDeduplicates(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Model", "a.meta.json")
	ix.Add("Workspace/Model/Part", "a.meta.json")

	assert.Equal(t, []string{"a.meta.json"}, ix.FindByPrefix("Workspace/Model"))
}

func TestIndexRemove(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Model", "a.meta.json")
	ix.Add("Workspace/Model", "b.meta.json")

	ix.Remove("Workspace/Model", "a.meta.json")
	assert.Equal(t, []string{"b.meta.json"}, ix.FindByPrefix("Workspace/Model"))

	ix.Remove("Workspace/Model", "b.meta.json")
	assert.Empty(t, ix.FindByPrefix("Workspace/Model"))
	assert.Equal(t, 0, ix.Len())
}

func TestIndexRemoveAllForFile(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Model", "a.meta.json")
	ix.Add("Lighting/Sky", "a.meta.json")
	ix.Add("Lighting/Sky", "b.meta.json")

	ix.RemoveAllForFile("a.meta.json")
	assert.Empty(t, ix.FindByPrefix("Workspace/Model"))
	assert.Equal(t, []string{"b.meta.json"}, ix.FindByPrefix("Lighting/Sky"))
}

func TestIndexRenameFile(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Model", "old/a.meta.json")
	ix.Add("Lighting/Sky", "old/a.meta.json")

	ix.RenameFile("old/a.meta.json", "new/a.meta.json")
	assert.Equal(t, []string{"new/a.meta.json"}, ix.FindByPrefix("Workspace/Model"))
	assert.Equal(t, []string{"new/a.meta.json"}, ix.FindByPrefix("Lighting/Sky"))
}

func TestIndexUpdatePrefix(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Old", "a.meta.json")
	ix.Add("Workspace/Old/Part", "b.meta.json")
	ix.Add("Workspace/Other", "c.meta.json")

	ix.UpdatePrefix("Workspace/Old", "Workspace/New")

	assert.Empty(t, ix.FindByPrefix("Workspace/Old"))
	assert.Equal(t, []string{"a.meta.json"}, ix.FindByPrefix("Workspace/New"))
	assert.Equal(t, []string{"a.meta.json", "b.meta.json"}, ix.FindByPrefix("Workspace"))
	assert.NotContains(t, ix.FindByPrefix("Workspace/New"), "c.meta.json")
}

func TestIndexUpdatePrefixMergesEntries(t *testing.T) {
	ix := NewIndex()
	ix.Add("Workspace/Old", "a.meta.json")
	ix.Add("Workspace/New", "b.meta.json")

	ix.UpdatePrefix("Workspace/Old", "Workspace/New")
	assert.Equal(t, []string{"a.meta.json", "b.meta.json"}, ix.FindByPrefix("Workspace/New"))
}

type fixedResolver map[string]string

func (r fixedResolver) AbsoluteRefPath(file string) (string, bool) {
	abs, ok := r[file]
	return abs, ok
}

func TestIndexPopulate(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	metaPath := filepath.Join(sub, "Model.meta.json")
	writeFile(t, metaPath, `{
		"className": "Model",
		"attributes": {
			"Sync_Ref_PrimaryPart": "@self/Part",
			"Sync_Ref_Target": "@root/Lighting/Sky",
			"Sync_Id": "ignored"
		}
	}`)
	writeFile(t, filepath.Join(sub, "Script.server.lua"), "return 1")
	writeFile(t, filepath.Join(sub, "broken.meta.json"), "{not json")

	ix := NewIndex()
	resolver := fixedResolver{metaPath: "Workspace/Model"}
	require.NoError(t, ix.Populate(dir, resolver))

	assert.Equal(t, []string{metaPath}, ix.FindByPrefix("Workspace/Model/Part"))
	assert.Equal(t, []string{metaPath}, ix.FindByPrefix("Lighting/Sky"))
	assert.Empty(t, ix.FindByPrefix("ignored"))
	assert.Equal(t, 2, ix.Len())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
