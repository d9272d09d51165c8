package refpath

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rbxsync/rbxsync/internal/debug"
)

// Index maps absolute ref-path strings to the set of meta/model files whose
// stored reference attributes point there. It lets a rename update every
// affected file in O(affected files) instead of re-walking the whole tree.
//
// The index is rebuilt per syncback or validation pass and is never shared
// across concurrent operations.
type Index struct {
	pathsToFiles map[string]map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{pathsToFiles: make(map[string]map[string]struct{})}
}

// Add records that file contains a reference attribute targeting refPath.
func (ix *Index) Add(refPath, file string) {
	files, ok := ix.pathsToFiles[refPath]
	if !ok {
		files = make(map[string]struct{})
		ix.pathsToFiles[refPath] = files
	}
	files[file] = struct{}{}
}

// Remove drops the record that file targets refPath. Called when an
// attribute is removed or its value changes.
func (ix *Index) Remove(refPath, file string) {
	if files, ok := ix.pathsToFiles[refPath]; ok {
		delete(files, file)
		if len(files) == 0 {
			delete(ix.pathsToFiles, refPath)
		}
	}
}

// RemoveAllForFile drops file from every entry. Used when re-indexing a
// file: remove the old entries, then re-add what remains.
func (ix *Index) RemoveAllForFile(file string) {
	for refPath, files := range ix.pathsToFiles {
		delete(files, file)
		if len(files) == 0 {
			delete(ix.pathsToFiles, refPath)
		}
	}
}

// FindByPrefix returns every file holding a reference whose target equals
// prefix or sits below it. These are the files needing a rewrite when the
// instance at prefix is renamed. The result is sorted and deduplicated.
func (ix *Index) FindByPrefix(prefix string) []string {
	withSep := prefix + "/"
	seen := make(map[string]struct{})
	for refPath, files := range ix.pathsToFiles {
		if refPath == prefix || strings.HasPrefix(refPath, withSep) {
			for f := range files {
				seen[f] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(seen))
	for f := range seen {
		result = append(result, f)
	}
	sort.Strings(result)
	return result
}

// RenameFile updates the filesystem path of a file in every entry, for when
// a directory rename moves the meta files themselves.
func (ix *Index) RenameFile(oldFile, newFile string) {
	for _, files := range ix.pathsToFiles {
		if _, ok := files[oldFile]; ok {
			delete(files, oldFile)
			files[newFile] = struct{}{}
		}
	}
}

// UpdatePrefix rewrites every key at or below oldPrefix to sit below
// newPrefix instead. All affected entries move together; entries that
// converge onto the same new key are merged.
func (ix *Index) UpdatePrefix(oldPrefix, newPrefix string) {
	withSep := oldPrefix + "/"
	type rename struct{ oldKey, newKey string }
	var renames []rename
	for refPath := range ix.pathsToFiles {
		if refPath == oldPrefix {
			renames = append(renames, rename{refPath, newPrefix})
		} else if strings.HasPrefix(refPath, withSep) {
			renames = append(renames, rename{refPath, newPrefix + refPath[len(oldPrefix):]})
		}
	}
	for _, r := range renames {
		files := ix.pathsToFiles[r.oldKey]
		delete(ix.pathsToFiles, r.oldKey)
		dst, ok := ix.pathsToFiles[r.newKey]
		if !ok {
			ix.pathsToFiles[r.newKey] = files
			continue
		}
		for f := range files {
			dst[f] = struct{}{}
		}
	}
}

// Len returns the number of distinct target paths indexed.
func (ix *Index) Len() int {
	return len(ix.pathsToFiles)
}

// SourceResolver maps a meta/model file path to the absolute ref path of the
// instance owning it, so relative attribute values can be normalized to
// absolute index keys.
type SourceResolver interface {
	AbsoluteRefPath(file string) (string, bool)
}

// Populate scans root for meta and model files carrying reference
// attributes and indexes them. Relative values are resolved to absolute
// using the owner's path so prefix lookups work uniformly.
func (ix *Index) Populate(root string, resolver SourceResolver) error {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() || !isMetaOrModel(d.Name()) {
			return nil
		}

		refs := readRefAttributes(path)
		if len(refs) == 0 {
			return nil
		}

		sourceAbs := ""
		if resolver != nil {
			if abs, ok := resolver.AbsoluteRefPath(path); ok {
				sourceAbs = abs
			}
		}
		for _, value := range refs {
			resolved, ok := ResolveToAbsolute(value, sourceAbs)
			if !ok {
				resolved = value
			}
			ix.Add(resolved, path)
			count++
		}
		return nil
	})
	if count > 0 {
		debug.LogSyncback("ref path index: %d reference attributes from meta/model files\n", count)
	}
	return err
}

func isMetaOrModel(name string) bool {
	return strings.HasSuffix(name, ".meta.json") || strings.HasSuffix(name, ".model.json")
}

// readRefAttributes extracts the values of all path-reference attributes in
// a meta/model file. Unparseable files contribute nothing.
func readRefAttributes(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc struct {
		Attributes map[string]json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	var values []string
	for key, rawValue := range doc.Attributes {
		if !strings.HasPrefix(key, RefAttributePrefix) {
			continue
		}
		var s string
		if err := json.Unmarshal(rawValue, &s); err == nil {
			values = append(values, s)
		}
	}
	return values
}
