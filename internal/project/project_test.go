package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rberrors "github.com/rbxsync/rbxsync/internal/errors"
)

func writeProject(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validDescriptor = `{
	"name": "demo",
	"mounts": [
		{"target": "ReplicatedStorage/Shared", "path": "src/shared"},
		{"target": "ServerScriptService", "path": "src/server", "className": "ServerScriptService"}
	],
	"globIgnorePaths": ["**/*.spec.lua", "build/**"],
	"policy": {"syncRefs": true, "cleanSyncback": false}
}`

func TestLoadValidDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, validDescriptor)

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, "DataModel", p.RootClassName)
	require.Len(t, p.Mounts, 2)
	assert.Equal(t, filepath.Join(dir, "src/shared"), p.Mounts[0].Path)
	assert.True(t, p.Policy.SyncRefs)
	assert.True(t, p.Policy.EncodeNamesEnabled(), "encodeNames defaults on")
}

func TestLoadByFilePath(t *testing.T) {
	dir := t.TempDir()
	path := writeProject(t, dir, validDescriptor)
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, p.Dir)
}

func TestLoadFailuresAreConfigErrors(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"not json", `{broken`},
		{"missing name", `{"mounts": [{"target": "Workspace", "path": "src"}]}`},
		{"no mounts", `{"name": "x", "mounts": []}`},
		{"mount missing path", `{"name": "x", "mounts": [{"target": "Workspace"}]}`},
		{"bad target", `{"name": "x", "mounts": [{"target": "/Workspace", "path": "src"}]}`},
		{"bad glob", `{"name": "x", "mounts": [{"target": "Workspace", "path": "src"}], "globIgnorePaths": ["[unclosed"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeProject(t, dir, tc.contents)
			_, err := Load(dir)
			require.Error(t, err)
			var cfgErr *rberrors.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "want ConfigError, got %T: %v", err, err)
		})
	}
}

func TestLoadMissingDescriptor(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	var cfgErr *rberrors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestIgnored(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, validDescriptor)
	p, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, p.Ignored(filepath.Join(dir, "src/shared/Thing.spec.lua")))
	assert.True(t, p.Ignored(filepath.Join(dir, "build/out.lua")))
	assert.False(t, p.Ignored(filepath.Join(dir, "src/shared/Thing.lua")))
}

func TestMountFor(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, validDescriptor)
	p, err := Load(dir)
	require.NoError(t, err)

	m := p.MountFor(filepath.Join(dir, "src/shared/Deep/File.lua"))
	require.NotNil(t, m)
	assert.Equal(t, "ReplicatedStorage/Shared", m.Target)

	assert.Nil(t, p.MountFor(filepath.Join(dir, "elsewhere/File.lua")))
}
