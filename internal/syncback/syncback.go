package syncback

import (
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rbxsync/rbxsync/internal/debug"
	rberrors "github.com/rbxsync/rbxsync/internal/errors"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/match"
	"github.com/rbxsync/rbxsync/internal/middleware"
	"github.com/rbxsync/rbxsync/internal/naming"
	"github.com/rbxsync/rbxsync/internal/project"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// visibleServices are the service names synced when the
// ignoreHiddenServices policy is active. Everything else under the root is
// engine-internal bookkeeping users never edit.
var visibleServices = makeSet(
	"Workspace", "Players", "Lighting", "MaterialService", "ReplicatedFirst",
	"ReplicatedStorage", "ServerScriptService", "ServerStorage", "StarterGui",
	"StarterPack", "StarterPlayer", "Teams", "SoundService", "Chat",
	"LocalizationService", "TestService",
)

func makeSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Options configures one syncback run.
type Options struct {
	// Dir is the output directory whose contents mirror the root's
	// children.
	Dir    string
	Policy project.Policy
	// Root selects the subtree to write. The zero value means the whole
	// tree.
	Root instance.Ref
	// Codec encodes binary model instances. Nil uses the opaque codec.
	Codec middleware.BinaryCodec
	// Ignore reports whether a path is excluded from syncing. Excluded
	// paths are invisible to the run: never snapshotted, never deleted.
	Ignore func(path string) bool
}

func (o Options) codec() middleware.BinaryCodec {
	if o.Codec == nil {
		return middleware.OpaqueCodec{}
	}
	return o.Codec
}

type runner struct {
	tree        *snapshot.Tree
	opts        Options
	session     *match.Session
	fs          *FsSnapshot
	stats       *Stats
	errs        *rberrors.MultiError
	refRewrites map[instance.Ref]map[string]refRewrite
}

// Run plans the filesystem delta that makes opts.Dir mirror the tree. The
// returned delta has not touched disk; call its Apply to commit.
//
// Unless clean mode is active, the current on-disk state is re-snapshotted
// and each tree node is matched against it so existing filenames, formats
// and dedup suffixes are preserved. Clean mode starts from nothing and
// ends with a before/after path-set diff that deletes every stale path.
func Run(tree *snapshot.Tree, opts Options) (*FsSnapshot, *Stats, error) {
	r := &runner{
		tree:    tree,
		opts:    opts,
		session: match.NewSession(instance.DiskEquality),
		fs:      NewFsSnapshot(),
		stats:   &Stats{},
		errs:    &rberrors.MultiError{},
	}

	var oldRoot *snapshot.Snapshot
	var before []string
	if opts.Policy.CleanSyncback {
		before = listPaths(opts.Dir, opts.Ignore)
	} else {
		var err error
		oldRoot, err = middleware.FromPath(&middleware.Context{Codec: opts.Codec, Ignore: opts.Ignore}, opts.Dir)
		if err != nil {
			r.errs.Append(err)
		}
	}

	start := tree.Get(tree.Root())
	if !opts.Root.IsNone() {
		if node := tree.Get(opts.Root); node != nil {
			start = node
		}
	}

	if opts.Policy.SyncRefs && oldRoot != nil {
		if startAbs, ok := tree.RefPathTo(start.ID); ok {
			r.rewriteStaleStoredRefs(oldRoot, startAbs)
		}
	}

	r.fs.AddDir(opts.Dir)
	// The hidden-services filter only makes sense directly under the
	// data model root.
	r.syncChildren(start, oldRoot, opts.Dir, start.ID == tree.Root())

	if opts.Policy.CleanSyncback {
		produced := make(map[string]struct{})
		for _, p := range r.fs.Paths() {
			produced[p] = struct{}{}
		}
		for _, p := range before {
			if _, ok := produced[p]; !ok {
				r.fs.AddDelete(p)
			}
		}
	}

	r.stats.Errors += len(r.errs.Errors)
	debug.LogSyncback("planned: %s\n", r.stats)
	return r.fs, r.stats, r.errs.ErrorOrNil()
}

// syncChildren writes the children of one live node into one directory.
func (r *runner) syncChildren(liveParent *snapshot.Node, oldParent *snapshot.Snapshot, dir string, topLevel bool) {
	liveNodes := r.tree.ChildNodes(liveParent.ID)
	if topLevel && r.opts.Policy.IgnoreHiddenServices {
		kept := liveNodes[:0]
		for _, node := range liveNodes {
			if _, visible := visibleServices[node.Name]; visible {
				kept = append(kept, node)
			}
		}
		liveNodes = kept
	}

	oldFor, unmatchedOld := r.matchOld(liveNodes, liveParent, oldParent)

	// Files belonging to old children that no live node claims. The whole
	// old subtree is listed: a promotion can keep the directory path alive
	// while its old contents still have to go.
	for _, old := range unmatchedOld {
		addDeleteTree(r.fs, old)
	}

	promoted := r.computePromotions(liveNodes, oldFor, unmatchedOld)
	stems := r.assignStems(liveNodes, oldFor, promoted)
	for _, node := range liveNodes {
		r.emitNode(node, oldFor[node.ID], dir, stems[node.ID])
	}
}

// matchOld pairs live children against the previous on-disk snapshot.
func (r *runner) matchOld(liveNodes []*snapshot.Node, liveParent *snapshot.Node, oldParent *snapshot.Snapshot) (map[instance.Ref]*snapshot.Snapshot, []*snapshot.Snapshot) {
	oldFor := make(map[instance.Ref]*snapshot.Snapshot)
	if oldParent == nil {
		return oldFor, nil
	}

	oldAdapters := make([]match.Node, len(oldParent.Children))
	for i, old := range oldParent.Children {
		oldAdapters[i] = old.MatchNode()
	}
	liveAdapters := make([]match.Node, len(liveNodes))
	for i, node := range liveNodes {
		liveAdapters[i] = r.tree.MatchNode(node)
	}

	result := r.session.MatchChildren(oldAdapters, liveAdapters, match.PairKey{
		Virtual: oldParent.ID,
		Live:    liveParent.ID,
	})

	for _, pair := range result.Matched {
		old, _ := snapshot.SnapshotFromMatchNode(pair.Virtual)
		live, _ := snapshot.TreeNodeFromMatchNode(pair.Live)
		oldFor[live.ID] = old
	}
	var unmatched []*snapshot.Snapshot
	for _, n := range result.UnmatchedVirtual {
		old, _ := snapshot.SnapshotFromMatchNode(n)
		unmatched = append(unmatched, old)
	}
	return oldFor, unmatched
}

// assignStems gives every sibling its filename stem: the bare dedup key,
// before any extension. Matched nodes re-reserve their existing stems
// first so new siblings never steal them; fresh nodes are then processed
// in sorted order so suffix assignment among colliding names is
// deterministic.
func (r *runner) assignStems(liveNodes []*snapshot.Node, oldFor map[instance.Ref]*snapshot.Snapshot, promoted map[instance.Ref]string) map[instance.Ref]string {
	taken := make(map[string]struct{})
	stems := make(map[instance.Ref]string)

	for id, stem := range promoted {
		stems[id] = stem
		taken[strings.ToLower(stem)] = struct{}{}
	}

	for _, node := range liveNodes {
		if _, done := stems[node.ID]; done {
			continue
		}
		old := oldFor[node.ID]
		if old == nil {
			continue
		}
		stem := oldStem(old)
		// Reuse only while the stem still derives from the same display
		// name; otherwise fall through to fresh assignment.
		if stem == "" || naming.StripSuffix(stem) != r.encodeName(node.Name) {
			continue
		}
		stems[node.ID] = stem
		taken[strings.ToLower(stem)] = struct{}{}
	}

	fresh := make([]*snapshot.Node, 0, len(liveNodes))
	for _, node := range liveNodes {
		if _, done := stems[node.ID]; !done {
			fresh = append(fresh, node)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		if fresh[i].Name != fresh[j].Name {
			return fresh[i].Name < fresh[j].Name
		}
		return fresh[i].ClassName < fresh[j].ClassName
	})
	for _, node := range fresh {
		stem := naming.Deduplicate(r.encodeName(node.Name), taken)
		stems[node.ID] = stem
		taken[strings.ToLower(stem)] = struct{}{}
	}
	return stems
}

// computePromotions restores the dedup naming invariant when a group's
// bare-named member disappears: the lowest-suffixed survivor takes the bare
// stem and the rest renumber contiguously. Gaps left by suffixed middle
// deletions are tolerated and produce no stem changes.
func (r *runner) computePromotions(liveNodes []*snapshot.Node, oldFor map[instance.Ref]*snapshot.Snapshot, unmatchedOld []*snapshot.Snapshot) map[instance.Ref]string {
	baseDeleted := make(map[string]struct{})
	for _, old := range unmatchedOld {
		stem := oldStem(old)
		if stem == "" {
			continue
		}
		if _, _, suffixed := naming.ParseSuffix(stem); !suffixed {
			baseDeleted[strings.ToLower(stem)] = struct{}{}
		}
	}
	if len(baseDeleted) == 0 {
		return nil
	}

	type member struct {
		id   instance.Ref
		stem string
		ext  string
	}
	groups := make(map[string][]member)
	for _, node := range liveNodes {
		old := oldFor[node.ID]
		if old == nil {
			continue
		}
		stem := oldStem(old)
		base := naming.StripSuffix(stem)
		if stem == "" || base != r.encodeName(node.Name) {
			continue
		}
		key := strings.ToLower(base)
		if _, lost := baseDeleted[key]; !lost {
			continue
		}
		groups[key] = append(groups[key], member{id: node.ID, stem: stem, ext: middlewareFileExt(old)})
	}

	var promoted map[instance.Ref]string
	for _, members := range groups {
		remaining := make([]naming.GroupMember, len(members))
		for i, m := range members {
			remaining[i] = naming.GroupMember{Stem: m.stem, Ext: m.ext}
		}
		for _, rename := range naming.CleanupAfterDelete(remaining, true) {
			for _, m := range members {
				if naming.BuildName(m.stem, 0, m.ext) != rename.From {
					continue
				}
				if promoted == nil {
					promoted = make(map[instance.Ref]string)
				}
				promoted[m.id] = stemOfName(rename.To, m.ext)
			}
		}
	}
	return promoted
}

// middlewareFileExt recovers the filename extension a stored node's format
// uses, without the leading dot. Directory instances have none.
func middlewareFileExt(old *snapshot.Snapshot) string {
	if old.Metadata.Middleware == middleware.NameDir {
		return ""
	}
	return strings.TrimPrefix(middlewareExt[old.Metadata.Middleware], ".")
}

func stemOfName(name, ext string) string {
	if ext == "" {
		return name
	}
	return strings.TrimSuffix(name, "."+ext)
}

func (r *runner) encodeName(name string) string {
	if r.opts.Policy.EncodeNamesEnabled() && naming.NeedsEncoding(name) {
		return naming.Encode(name)
	}
	return name
}

// oldStem recovers the filename stem an on-disk node was stored under.
func oldStem(old *snapshot.Snapshot) string {
	source := old.Metadata.InstigatingSource
	if source == "" {
		return ""
	}
	base := filepath.Base(source)
	if old.Metadata.Middleware == middleware.NameDir {
		return base
	}
	if _, stem, ok := middleware.Classify(base); ok {
		return stem
	}
	return ""
}

func addDeleteTree(fs *FsSnapshot, old *snapshot.Snapshot) {
	for _, p := range old.Metadata.RelevantPaths {
		fs.AddDelete(p)
	}
	for _, child := range old.Children {
		addDeleteTree(fs, child)
	}
}

func listPaths(root string, ignore func(string) bool) []string {
	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		if ignore != nil && ignore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths
}

// marshalOrdered renders a JSON document with sorted keys and trailing
// newline, so repeated runs are byte-identical.
func marshalOrdered(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
