package syncback

import (
	"sort"
	"strings"

	"github.com/rbxsync/rbxsync/internal/debug"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/refpath"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// prefixRename records that the subtree rooted at oldAbs now lives at
// newAbs. Both are absolute reference paths.
type prefixRename struct {
	oldAbs string
	newAbs string
}

// refRewrite is one planned replacement of a stored reference string. The
// stale value guards the overlay: an attribute already recomputed to a
// different value is left alone.
type refRewrite struct {
	stale instance.String
	fresh instance.String
}

// oldOwners maps previously written meta/model files to the absolute ref
// path of the instance that owned them.
type oldOwners map[string]string

func (o oldOwners) AbsoluteRefPath(file string) (string, bool) {
	abs, ok := o[file]
	return abs, ok
}

// rewriteStaleStoredRefs detects instances renamed since the previous run,
// matching old on-disk state to the live tree by stored sync id, and plans
// replacement values for stored reference strings whose targets sat under
// a renamed prefix.
//
// References whose targets are still in the tree are recomputed during
// emission and pick up renames on their own; this pass covers preserved
// references, whose targets are gone and whose stored strings would
// otherwise go stale silently. A rebuilt index over the old files narrows
// the rewrite to references actually stored on disk.
func (r *runner) rewriteStaleStoredRefs(oldRoot *snapshot.Snapshot, startAbs string) {
	owners := make(oldOwners)
	oldByAbs := make(map[string]*snapshot.Snapshot)
	collectOldState(oldRoot, startAbs, owners, oldByAbs)

	renames := r.detectRenames(oldByAbs)
	if len(renames) == 0 {
		return
	}

	ix := refpath.NewIndex()
	if err := ix.Populate(r.opts.Dir, owners); err != nil {
		r.errs.Append(err)
		return
	}

	for _, rn := range renames {
		files := ix.FindByPrefix(rn.oldAbs)
		debug.LogSyncback("rename %q -> %q affects %d stored files\n",
			rn.oldAbs, rn.newAbs, len(files))
		for _, file := range files {
			ownerAbs, ok := owners[file]
			if !ok {
				continue
			}
			r.planRefRewrites(oldByAbs[ownerAbs], ownerAbs, rn, renames)
		}
		// Keep later prefix lookups consistent when renames nest.
		ix.UpdatePrefix(rn.oldAbs, rn.newAbs)
	}
}

// detectRenames pairs old on-disk instances with live ones by their Sync_Id
// attribute and reports those whose absolute path changed.
func (r *runner) detectRenames(oldByAbs map[string]*snapshot.Snapshot) []prefixRename {
	liveByID := make(map[string]string)
	r.collectLiveSyncIDs(r.tree.Root(), "", liveByID)
	if len(liveByID) == 0 {
		return nil
	}

	var renames []prefixRename
	for abs, old := range oldByAbs {
		id := syncID(snapshotAttributes(old))
		if id == "" {
			continue
		}
		liveAbs, ok := liveByID[id]
		if !ok || liveAbs == abs {
			continue
		}
		renames = append(renames, prefixRename{oldAbs: abs, newAbs: liveAbs})
	}
	sort.Slice(renames, func(i, j int) bool { return renames[i].oldAbs < renames[j].oldAbs })
	return renames
}

func (r *runner) collectLiveSyncIDs(parent instance.Ref, abs string, out map[string]string) {
	for _, child := range r.tree.ChildNodes(parent) {
		childAbs := joinAbs(abs, child.Name)
		if id := syncID(child.Attributes()); id != "" {
			if _, dup := out[id]; !dup {
				out[id] = childAbs
			}
		}
		r.collectLiveSyncIDs(child.ID, childAbs, out)
	}
}

// planRefRewrites records replacements for every stored reference attribute
// of one old instance that pointed at or below the renamed prefix. The
// stored spelling is kept: absolute values stay absolute, relative ones are
// recomputed from the owner's live position.
func (r *runner) planRefRewrites(old *snapshot.Snapshot, ownerAbs string, rn prefixRename, all []prefixRename) {
	if old == nil {
		return
	}
	liveOwnerAbs := applyRenames(ownerAbs, all)
	ownerID, ok := r.tree.ResolveRefPath(liveOwnerAbs)
	if !ok {
		return
	}

	for name, v := range snapshotAttributes(old) {
		if !strings.HasPrefix(name, refpath.RefAttributePrefix) {
			continue
		}
		stored, ok := v.(instance.String)
		if !ok {
			continue
		}
		abs, ok := refpath.ResolveToAbsolute(string(stored), ownerAbs)
		if !ok {
			continue
		}
		if abs != rn.oldAbs && !strings.HasPrefix(abs, rn.oldAbs+"/") {
			continue
		}

		newAbs := rn.newAbs + abs[len(rn.oldAbs):]
		var fresh string
		if strings.HasPrefix(string(stored), refpath.RootPrefix) {
			fresh = refpath.RootPrefix + "/" + newAbs
		} else {
			fresh = refpath.ComputeRelative(liveOwnerAbs, newAbs)
		}

		if r.refRewrites == nil {
			r.refRewrites = make(map[instance.Ref]map[string]refRewrite)
		}
		m := r.refRewrites[ownerID]
		if m == nil {
			m = make(map[string]refRewrite)
			r.refRewrites[ownerID] = m
		}
		m[name] = refRewrite{stale: stored, fresh: instance.String(fresh)}
	}
}

// collectOldState walks the previous on-disk snapshot, recording each
// instance by absolute path and each contributing file by its owner.
func collectOldState(snap *snapshot.Snapshot, abs string, owners oldOwners, oldByAbs map[string]*snapshot.Snapshot) {
	oldByAbs[abs] = snap
	for _, p := range snap.Metadata.RelevantPaths {
		owners[p] = abs
	}
	for _, child := range snap.Children {
		collectOldState(child, joinAbs(abs, child.Name), owners, oldByAbs)
	}
}

func applyRenames(abs string, renames []prefixRename) string {
	for _, rn := range renames {
		if abs == rn.oldAbs {
			return rn.newAbs
		}
		if strings.HasPrefix(abs, rn.oldAbs+"/") {
			return rn.newAbs + abs[len(rn.oldAbs):]
		}
	}
	return abs
}

func joinAbs(base, name string) string {
	seg := refpath.Join([]string{name})
	if base == "" {
		return seg
	}
	return base + "/" + seg
}

func syncID(attrs instance.Attributes) string {
	if s, ok := attrs[refpath.RefIDAttribute].(instance.String); ok {
		return string(s)
	}
	return ""
}

func snapshotAttributes(snap *snapshot.Snapshot) instance.Attributes {
	if attrs, ok := snap.Properties["Attributes"].(instance.Attributes); ok {
		return attrs
	}
	return nil
}
