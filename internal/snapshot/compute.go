package snapshot

import (
	"fmt"
	"slices"

	"github.com/rbxsync/rbxsync/internal/debug"
	"github.com/rbxsync/rbxsync/internal/instance"
	"github.com/rbxsync/rbxsync/internal/match"
)

// snapNode adapts a Snapshot to the matching engine.
type snapNode struct{ s *Snapshot }

func (n snapNode) ID() instance.Ref                      { return n.s.ID }
func (n snapNode) Name() string                          { return n.s.Name }
func (n snapNode) ClassName() string                     { return n.s.ClassName }
func (n snapNode) Properties() map[string]instance.Value { return n.s.Properties }

func (n snapNode) Children() []match.Node {
	children := make([]match.Node, len(n.s.Children))
	for i, child := range n.s.Children {
		children[i] = snapNode{child}
	}
	return children
}

// treeNode adapts a live tree node to the matching engine.
type treeNode struct {
	t *Tree
	n *Node
}

func (n treeNode) ID() instance.Ref                      { return n.n.ID }
func (n treeNode) Name() string                          { return n.n.Name }
func (n treeNode) ClassName() string                     { return n.n.ClassName }
func (n treeNode) Properties() map[string]instance.Value { return n.n.Properties }

func (n treeNode) Children() []match.Node {
	children := make([]match.Node, len(n.n.Children))
	for i, child := range n.n.Children {
		children[i] = treeNode{n.t, n.t.nodes[child]}
	}
	return children
}

// MatchNode adapts a snapshot for the matching engine.
func (s *Snapshot) MatchNode() match.Node { return snapNode{s} }

// MatchNode adapts a live node for the matching engine.
func (t *Tree) MatchNode(n *Node) match.Node { return treeNode{t, n} }

// SnapshotFromMatchNode recovers the snapshot behind an adapter.
func SnapshotFromMatchNode(n match.Node) (*Snapshot, bool) {
	sn, ok := n.(snapNode)
	if !ok {
		return nil, false
	}
	return sn.s, true
}

// TreeNodeFromMatchNode recovers the live node behind an adapter.
func TreeNodeFromMatchNode(n match.Node) (*Node, bool) {
	tn, ok := n.(treeNode)
	if !ok {
		return nil, false
	}
	return tn.n, true
}

// computeContext threads the session and signature lookups through one
// patch computation.
type computeContext struct {
	session  *match.Session
	strategy instance.FloatStrategy
	snapSigs map[instance.Ref]match.Signature
	tree     *Tree
}

// Compute diffs a virtual snapshot against the live subtree rooted at
// target and returns the patch set that would reconcile them. The result
// is disjoint: each instance appears as added, removed, or updated, never
// more than one.
func Compute(snap *Snapshot, tree *Tree, target instance.Ref, strategy instance.FloatStrategy) (*PatchSet, error) {
	targetNode := tree.Get(target)
	if targetNode == nil {
		return nil, fmt.Errorf("compute patch: target %s not in tree", target)
	}

	snapSigs := make(map[instance.Ref]match.Signature)
	snap.Walk(func(s *Snapshot) {
		snapSigs[s.ID] = match.Signature{Name: s.Name, ClassName: s.ClassName}
	})

	ctx := &computeContext{
		strategy: strategy,
		snapSigs: snapSigs,
		tree:     tree,
	}
	ctx.session = match.NewSession(strategy, match.WithSignatureLookups(
		func(r instance.Ref) (match.Signature, bool) {
			sig, ok := snapSigs[r]
			return sig, ok
		},
		func(r instance.Ref) (match.Signature, bool) {
			name, class, ok := tree.Signature(r)
			return match.Signature{Name: name, ClassName: class}, ok
		},
	))

	patch := &PatchSet{}
	ctx.diffPair(snap, targetNode, patch)
	debug.LogPatch("computed patch: %s\n", patch.Summary())
	return patch, nil
}

func (ctx *computeContext) diffPair(snap *Snapshot, node *Node, patch *PatchSet) {
	if update := ctx.diffFields(snap, node); !update.IsEmpty() {
		patch.Updated = append(patch.Updated, update)
	}

	result := ctx.session.MatchChildren(
		snapNode{snap}.Children(),
		treeNode{ctx.tree, node}.Children(),
		match.PairKey{Virtual: snap.ID, Live: node.ID},
	)

	for _, pair := range result.Matched {
		ctx.diffPair(pair.Virtual.(snapNode).s, pair.Live.(treeNode).n, patch)
	}
	for _, unmatched := range result.UnmatchedVirtual {
		patch.Added = append(patch.Added, AddedInstance{
			Parent:   node.ID,
			Snapshot: unmatched.(snapNode).s,
		})
	}
	if !snap.Metadata.IgnoreUnknownInstances {
		for _, unmatched := range result.UnmatchedLive {
			patch.Removed = append(patch.Removed, unmatched.(treeNode).n.ID)
		}
	}
}

// diffFields compares the own fields of one matched pair.
func (ctx *computeContext) diffFields(snap *Snapshot, node *Node) UpdatedInstance {
	update := UpdatedInstance{ID: node.ID}

	if snap.Name != node.Name {
		name := snap.Name
		update.ChangedName = &name
	}
	if snap.ClassName != node.ClassName {
		class := snap.ClassName
		update.ChangedClassName = &class
	}

	for name, sv := range snap.Properties {
		lv, ok := node.Properties[name]
		if !ok || !ctx.valuesEqual(sv, lv) {
			if update.ChangedProperties == nil {
				update.ChangedProperties = make(map[string]instance.Value)
			}
			update.ChangedProperties[name] = sv
		}
	}
	for name := range node.Properties {
		if _, ok := snap.Properties[name]; !ok {
			if update.ChangedProperties == nil {
				update.ChangedProperties = make(map[string]instance.Value)
			}
			update.ChangedProperties[name] = nil
		}
	}

	if !metadataEqual(snap.Metadata, node.Metadata) {
		meta := snap.Metadata
		update.ChangedMetadata = &meta
	}
	return update
}

// valuesEqual compares one snapshot property against one live property.
// Reference values compare by target identity signature: the handles
// belong to different trees and are never equal directly.
func (ctx *computeContext) valuesEqual(sv, lv instance.Value) bool {
	sr, sOK := sv.(instance.RefValue)
	lr, lOK := lv.(instance.RefValue)
	if sOK && lOK {
		sSig, sFound := ctx.snapSigs[instance.Ref(sr)]
		lName, lClass, lFound := ctx.tree.Signature(instance.Ref(lr))
		if !sFound && !lFound {
			return true
		}
		lSig := match.Signature{Name: lName, ClassName: lClass}
		return sFound == lFound && sSig == lSig
	}
	return instance.ValuesEqual(sv, lv, ctx.strategy)
}

func metadataEqual(a, b Metadata) bool {
	return a.InstigatingSource == b.InstigatingSource &&
		a.Middleware == b.Middleware &&
		a.IgnoreUnknownInstances == b.IgnoreUnknownInstances &&
		slices.Equal(a.RelevantPaths, b.RelevantPaths)
}
