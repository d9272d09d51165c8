// Package match pairs up two ordered lists of tree children by structural
// similarity. Name-based pairing handles the common case; siblings that
// share a (name, class) identity are disambiguated by a recursive cost
// function over their properties and descendants.
package match

import (
	"github.com/rbxsync/rbxsync/internal/debug"
	"github.com/rbxsync/rbxsync/internal/instance"
)

// UnmatchedPenalty is the cost charged for every child left without a
// counterpart. It dominates any plausible sum of unit property costs, so
// pairing two nodes with many small differences always beats leaving them
// unmatched.
const UnmatchedPenalty int64 = 10_000

// DefaultMaxDepth bounds recursive cost computation. Beyond it, remaining
// descendants are charged as an unmatched lump sum instead of recursed
// into. Trees in practice are tens of levels deep, not thousands.
const DefaultMaxDepth = 12

// Node is one comparable tree node. Both sides of a match implement it:
// file-derived snapshots and live-tree instances.
type Node interface {
	// ID is a handle stable for the lifetime of the session. It keys
	// memoization and appears in results; it is never compared across the
	// two sides.
	ID() instance.Ref
	Name() string
	ClassName() string
	Properties() map[string]instance.Value
	Children() []Node
}

// Signature is the identity of a reference target: enough to say "the same
// kind of thing" across two trees whose handles can never be equal.
type Signature struct {
	Name      string
	ClassName string
}

// SignatureLookup resolves a reference handle to its target's signature
// within one side's tree.
type SignatureLookup func(instance.Ref) (Signature, bool)

// PairKey identifies a (virtual, live) node pair for memoization.
type PairKey struct {
	Virtual instance.Ref
	Live    instance.Ref
}

// Pair is one committed match.
type Pair struct {
	Virtual Node
	Live    Node
}

// Result is the outcome of matching two child lists.
type Result struct {
	Matched          []Pair
	UnmatchedVirtual []Node
	UnmatchedLive    []Node
	// TotalCost sums every matched pair's cost plus UnmatchedPenalty per
	// unmatched child.
	TotalCost int64
}

// Session scopes memoization and comparison strategy to one top-level
// operation. Sessions are not shared across concurrent operations; build a
// fresh one per reconcile or syncback pass.
type Session struct {
	strategy      instance.FloatStrategy
	maxDepth      int
	lookupVirtual SignatureLookup
	lookupLive    SignatureLookup

	// Only exact costs are cached. A cost cut short by an early-exit
	// threshold is a lower bound, not the true value.
	pairCosts    map[PairKey]int64
	childResults map[PairKey]*Result
}

// Option configures a Session.
type Option func(*Session)

// WithMaxDepth overrides the recursion depth bound.
func WithMaxDepth(depth int) Option {
	return func(s *Session) { s.maxDepth = depth }
}

// WithSignatureLookups supplies reference resolution for the virtual and
// live sides, enabling reference-aware property costs. Without lookups,
// reference properties cost nothing to differ.
func WithSignatureLookups(virtual, live SignatureLookup) Option {
	return func(s *Session) {
		s.lookupVirtual = virtual
		s.lookupLive = live
	}
}

// NewSession creates a session using the given float comparison strategy.
// DiskEquality decides "would this produce a different file"; LiveEquality
// decides "is this the same value for editing purposes".
func NewSession(strategy instance.FloatStrategy, opts ...Option) *Session {
	s := &Session{
		strategy:     strategy,
		maxDepth:     DefaultMaxDepth,
		pairCosts:    make(map[PairKey]int64),
		childResults: make(map[PairKey]*Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MatchChildren pairs virtual children against live children under the
// parent identified by parentKey. Results are memoized per parent pair
// within the session.
func (s *Session) MatchChildren(virtual, live []Node, parentKey PairKey) *Result {
	return s.matchChildren(virtual, live, parentKey, 0)
}

type identity struct {
	name  string
	class string
}

func (s *Session) matchChildren(virtual, live []Node, parentKey PairKey, depth int) *Result {
	memoable := !parentKey.Virtual.IsNone() && !parentKey.Live.IsNone()
	if memoable {
		if cached, ok := s.childResults[parentKey]; ok {
			return cached
		}
	}

	result := &Result{}

	// Group both sides by (name, class), preserving first-seen order so
	// every later step is deterministic.
	var order []identity
	virtualGroups := make(map[identity][]Node)
	liveGroups := make(map[identity][]Node)
	for _, v := range virtual {
		id := identity{v.Name(), v.ClassName()}
		if _, seen := virtualGroups[id]; !seen {
			if _, seenLive := liveGroups[id]; !seenLive {
				order = append(order, id)
			}
		}
		virtualGroups[id] = append(virtualGroups[id], v)
	}
	for _, l := range live {
		id := identity{l.Name(), l.ClassName()}
		if _, seen := liveGroups[id]; !seen {
			if _, seenVirtual := virtualGroups[id]; !seenVirtual {
				order = append(order, id)
			}
		}
		liveGroups[id] = append(liveGroups[id], l)
	}

	for _, id := range order {
		vs := virtualGroups[id]
		ls := liveGroups[id]
		switch {
		case len(vs) == 1 && len(ls) == 1:
			// Unambiguous 1:1 identity. Committed without computing a
			// pairwise cost; the cost is still charged into TotalCost so
			// parent-level comparisons see the full picture.
			result.Matched = append(result.Matched, Pair{vs[0], ls[0]})
			result.TotalCost += s.pairCost(vs[0], ls[0], depth, noThreshold)
		case len(vs) == 0:
			result.UnmatchedLive = append(result.UnmatchedLive, ls...)
		case len(ls) == 0:
			result.UnmatchedVirtual = append(result.UnmatchedVirtual, vs...)
		default:
			s.matchAmbiguousGroup(vs, ls, depth, result)
		}
	}

	result.TotalCost += UnmatchedPenalty * int64(len(result.UnmatchedVirtual)+len(result.UnmatchedLive))

	if memoable {
		s.childResults[parentKey] = result
	}
	if len(result.UnmatchedVirtual) > 0 || len(result.UnmatchedLive) > 0 {
		debug.LogMatch("matched %d pairs, %d/%d unmatched, cost %d\n",
			len(result.Matched), len(result.UnmatchedVirtual), len(result.UnmatchedLive), result.TotalCost)
	}
	return result
}

type matrixEntry struct {
	cost  int64
	exact bool
}

// matchAmbiguousGroup pairs the members of one (name, class) group by
// greedy lowest-cost assignment.
func (s *Session) matchAmbiguousGroup(vs, ls []Node, depth int, result *Result) {
	// Pairwise cost matrix. Rows are virtual, columns are live. Each row
	// is computed with the row's running minimum as an early-exit
	// threshold: entries at or above it can only be lower bounds.
	matrix := make([][]matrixEntry, len(vs))
	for i, v := range vs {
		matrix[i] = make([]matrixEntry, len(ls))
		rowBest := noThreshold
		for j, l := range ls {
			cost, exact := s.pairCostBounded(v, l, depth, rowBest)
			matrix[i][j] = matrixEntry{cost, exact}
			if exact && cost < rowBest {
				rowBest = cost
			}
		}
	}

	takenV := make([]bool, len(vs))
	takenL := make([]bool, len(ls))
	remaining := min(len(vs), len(ls))
	for committed := 0; committed < remaining; committed++ {
		bi, bj := -1, -1
		var best int64
		for i := range vs {
			if takenV[i] {
				continue
			}
			for j := range ls {
				if takenL[j] {
					continue
				}
				e := matrix[i][j]
				if bi == -1 || e.cost < best {
					bi, bj, best = i, j, e.cost
				}
			}
		}
		// A pruned entry only proves it lost to its row's former best,
		// which may be taken by now. Recompute exactly before committing.
		if !matrix[bi][bj].exact {
			cost := s.pairCost(vs[bi], ls[bj], depth, noThreshold)
			matrix[bi][bj] = matrixEntry{cost, true}
			committed--
			continue
		}
		takenV[bi] = true
		takenL[bj] = true
		result.Matched = append(result.Matched, Pair{vs[bi], ls[bj]})
		result.TotalCost += best
	}

	for i, v := range vs {
		if !takenV[i] {
			result.UnmatchedVirtual = append(result.UnmatchedVirtual, v)
		}
	}
	for j, l := range ls {
		if !takenL[j] {
			result.UnmatchedLive = append(result.UnmatchedLive, l)
		}
	}
}
