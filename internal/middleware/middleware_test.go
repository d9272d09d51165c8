package middleware

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbxsync/rbxsync/internal/instance"
)

func write(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestClassifyCompoundSuffixesFirst(t *testing.T) {
	cases := []struct {
		filename string
		mwName   string
		base     string
	}{
		{"Foo.server.lua", NameServerScript, "Foo"},
		{"Foo.server.luau", NameServerScript, "Foo"},
		{"Foo.client.lua", NameClientScript, "Foo"},
		{"Foo.lua", NameModuleScript, "Foo"},
		{"Foo.model.json", NameJSONModel, "Foo"},
		{"Foo.json", NameJSON, "Foo"},
		{"Foo.toml", NameTOML, "Foo"},
		{"Foo.yaml", NameYAML, "Foo"},
		{"Foo.yml", NameYAML, "Foo"},
		{"Foo.txt", NameText, "Foo"},
		{"Foo.rbxm", NameBinaryModel, "Foo"},
	}
	for _, tc := range cases {
		mwName, base, ok := Classify(tc.filename)
		require.True(t, ok, tc.filename)
		assert.Equal(t, tc.mwName, mwName, tc.filename)
		assert.Equal(t, tc.base, base, tc.filename)
	}
}

func TestClassifyRejectsSidecarsAndUnknown(t *testing.T) {
	for _, filename := range []string{"Foo.meta.json", "default.project.json", "Foo.png", "README.md", ".lua"} {
		_, _, ok := Classify(filename)
		assert.False(t, ok, filename)
	}
}

func TestSnapshotScriptVariants(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		file      string
		className string
	}{
		{"Boot.server.lua", "Script"},
		{"Input.client.lua", "LocalScript"},
		{"Util.lua", "ModuleScript"},
	}
	for _, tc := range cases {
		path := write(t, dir, tc.file, "return nil")
		snap, err := FromPath(&Context{}, path)
		require.NoError(t, err)
		require.NotNil(t, snap, tc.file)
		assert.Equal(t, tc.className, snap.ClassName)
		assert.Equal(t, instance.String("return nil"), snap.Properties["Source"])
		assert.Equal(t, path, snap.Metadata.InstigatingSource)
	}
}

func TestSnapshotNameRecovery(t *testing.T) {
	dir := t.TempDir()

	// Encoded filename decodes back to the display name.
	path := write(t, dir, "What%QMARK%.lua", "return 1")
	snap, err := FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "What?", snap.Name)

	// A dedup suffix is stripped before decoding.
	path = write(t, dir, "Part~2.lua", "return 2")
	snap, err = FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "Part", snap.Name)

	// A sidecar name override beats both.
	write(t, dir, "Odd~3.meta.json", `{"name": "True/Name"}`)
	path = write(t, dir, "Odd~3.lua", "return 3")
	snap, err = FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "True/Name", snap.Name)
	assert.Contains(t, snap.Metadata.RelevantPaths, filepath.Join(dir, "Odd~3.meta.json"))
}

func TestSnapshotSidecarProperties(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "Config.meta.json", `{
		"properties": {"Disabled": true},
		"attributes": {"Team": "red"},
		"ignoreUnknownInstances": true
	}`)
	path := write(t, dir, "Config.lua", "return {}")

	snap, err := FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, instance.Bool(true), snap.Properties["Disabled"])
	assert.Equal(t, instance.String("red"), snap.Attributes()["Team"])
	assert.True(t, snap.Metadata.IgnoreUnknownInstances)
}

func TestSnapshotJSONModel(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "Spawn.model.json", `{
		"className": "SpawnLocation",
		"properties": {"Neutral": false},
		"children": [
			{"name": "Pad", "className": "Part", "properties": {"Anchored": true}}
		]
	}`)

	snap, err := FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "Spawn", snap.Name)
	assert.Equal(t, "SpawnLocation", snap.ClassName)
	assert.Equal(t, instance.Bool(false), snap.Properties["Neutral"])
	require.Len(t, snap.Children, 1)
	assert.Equal(t, "Pad", snap.Children[0].Name)
	assert.Equal(t, instance.Bool(true), snap.Children[0].Properties["Anchored"])
}

func TestSnapshotJSONModelMissingClassFails(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "Bad.model.json", `{"properties": {}}`)
	_, err := FromPath(&Context{}, path)
	assert.Error(t, err)
}

func TestSnapshotDataFormats(t *testing.T) {
	dir := t.TempDir()

	path := write(t, dir, "Conf.toml", "answer = 42\n")
	snap, err := FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "ModuleScript", snap.ClassName)
	assert.Equal(t, NameTOML, snap.Metadata.Middleware)
	assert.Equal(t, instance.String("answer = 42\n"), snap.Properties["Source"])

	path = write(t, dir, "List.yaml", "- a\n- b\n")
	snap, err = FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, NameYAML, snap.Metadata.Middleware)

	path = write(t, dir, "Note.txt", "hello")
	snap, err = FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "StringValue", snap.ClassName)
	assert.Equal(t, instance.String("hello"), snap.Properties["Value"])
}

func TestSnapshotMalformedDataFails(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"bad.json", "bad.toml", "bad.yaml"} {
		path := write(t, dir, f, "{{{{not valid")
		_, err := FromPath(&Context{}, path)
		assert.Error(t, err, f)
	}
}

func TestSnapshotBinaryModelOpaque(t *testing.T) {
	dir := t.TempDir()
	blob := "\x00\x01binary"
	path := write(t, dir, "Vendor.rbxm", blob)

	snap, err := FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Equal(t, "Vendor", snap.Name)
	assert.Equal(t, instance.Binary(blob), snap.Properties["Contents"])

	encoded, err := OpaqueCodec{}.Encode(snap)
	require.NoError(t, err)
	assert.Equal(t, []byte(blob), encoded)
}

func TestSnapshotDirPlainFolder(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "Shared")
	write(t, root, "A.lua", "return 1")
	write(t, root, "B.lua", "return 2")
	write(t, root, ".hidden", "x")

	snap, err := FromPath(&Context{}, root)
	require.NoError(t, err)
	assert.Equal(t, "Shared", snap.Name)
	assert.Equal(t, "Folder", snap.ClassName)
	require.Len(t, snap.Children, 2)
	// Directory-listing order, deterministic across runs.
	assert.Equal(t, "A", snap.Children[0].Name)
	assert.Equal(t, "B", snap.Children[1].Name)
}

func TestSnapshotDirWithInitScript(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "Loader")
	write(t, root, "init.server.lua", "print('boot')")
	write(t, root, "Helper.lua", "return {}")

	snap, err := FromPath(&Context{}, root)
	require.NoError(t, err)
	assert.Equal(t, "Script", snap.ClassName)
	assert.Equal(t, instance.String("print('boot')"), snap.Properties["Source"])
	require.Len(t, snap.Children, 1)
	assert.Equal(t, "Helper", snap.Children[0].Name)
}

func TestSnapshotDirWithInitMeta(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "World")
	write(t, root, "init.meta.json", `{"className": "Model", "attributes": {"Zone": "north"}}`)

	snap, err := FromPath(&Context{}, root)
	require.NoError(t, err)
	assert.Equal(t, "Model", snap.ClassName)
	assert.Equal(t, instance.String("north"), snap.Attributes()["Zone"])
}

func TestFromPathIgnoreRules(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "Skip.lua", "return nil")

	ctx := &Context{Ignore: func(p string) bool { return p == path }}
	snap, err := FromPath(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, snap, "ignored paths yield no snapshot and no error")
}

func TestFromPathUnclaimedFile(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "image.png", "\x89PNG")
	snap, err := FromPath(&Context{}, path)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFromPathMissingPath(t *testing.T) {
	snap, err := FromPath(&Context{}, filepath.Join(t.TempDir(), "nope.lua"))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpsertMetaNamePreservesOtherFields(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "Foo.meta.json", `{"className": "Folder", "properties": {"Locked": true}}`)

	require.NoError(t, UpsertMetaName(path, "Real Name"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.JSONEq(t, `"Real Name"`, string(fields["name"]))
	assert.JSONEq(t, `"Folder"`, string(fields["className"]))
	assert.JSONEq(t, `{"Locked": true}`, string(fields["properties"]))
}

func TestUpsertMetaNameCreatesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Bar.meta.json")

	require.NoError(t, UpsertMetaName(path, "Bar/Baz"))
	meta, err := ReadMeta(path)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Bar/Baz", meta.Name)

	// Clearing the only field removes the file entirely.
	require.NoError(t, UpsertMetaName(path, ""))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "orphan sidecar must be deleted")
}
