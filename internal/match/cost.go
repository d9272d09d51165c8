package match

import (
	"math"

	"github.com/rbxsync/rbxsync/internal/instance"
)

// noThreshold disables early-exit pruning.
const noThreshold int64 = math.MaxInt64

// pairCost returns the exact structural difference cost between two nodes.
func (s *Session) pairCost(v, l Node, depth int, threshold int64) int64 {
	cost, _ := s.pairCostBounded(v, l, depth, threshold)
	return cost
}

// pairCostBounded computes the cost of pairing v with l, stopping as soon
// as the accumulated cost reaches threshold. The second return reports
// whether the value is exact; only exact values enter the session cache.
func (s *Session) pairCostBounded(v, l Node, depth int, threshold int64) (int64, bool) {
	key := PairKey{v.ID(), l.ID()}
	if cached, ok := s.pairCosts[key]; ok {
		return cached, true
	}

	var cost int64
	if v.Name() != l.Name() {
		cost++
	}
	if v.ClassName() != l.ClassName() {
		cost++
	}

	vProps := v.Properties()
	lProps := l.Properties()
	for name, vv := range vProps {
		if cost >= threshold {
			return cost, false
		}
		lv, ok := lProps[name]
		if !ok {
			cost++
			continue
		}
		cost += s.valueCost(vv, lv)
	}
	for name := range lProps {
		if cost >= threshold {
			return cost, false
		}
		if _, ok := vProps[name]; !ok {
			cost++
		}
	}
	if cost >= threshold {
		return cost, false
	}

	vChildren := v.Children()
	lChildren := l.Children()
	if depth+1 >= s.maxDepth {
		// Depth bound hit: charge the descendants as an unmatched lump
		// sum instead of recursing.
		cost += UnmatchedPenalty * int64(len(vChildren)+len(lChildren))
	} else if len(vChildren) > 0 || len(lChildren) > 0 {
		child := s.matchChildren(vChildren, lChildren, key, depth+1)
		cost += child.TotalCost
	}

	if cost >= threshold {
		return cost, false
	}
	s.pairCosts[key] = cost
	return cost, true
}

// valueCost is the unit-weighted difference count between two property
// values. Most kinds contribute 0 or 1; attribute maps count each differing
// entry, and references compare target identity signatures.
func (s *Session) valueCost(v, l instance.Value) int64 {
	if v == nil || l == nil {
		if v == nil && l == nil {
			return 0
		}
		return 1
	}
	if v.Kind() != l.Kind() {
		return 1
	}

	switch vv := v.(type) {
	case instance.RefValue:
		return s.refCost(vv, l.(instance.RefValue))
	case instance.Attributes:
		la := l.(instance.Attributes)
		var cost int64
		for name, av := range vv {
			bv, ok := la[name]
			if !ok {
				cost++
				continue
			}
			cost += s.valueCost(av, bv)
		}
		for name := range la {
			if _, ok := vv[name]; !ok {
				cost++
			}
		}
		return cost
	default:
		if instance.ValuesEqual(v, l, s.strategy) {
			return 0
		}
		return 1
	}
}

// refCost compares two reference properties. The raw handles belong to
// different trees and can never be equal, so the comparison is by the
// referenced node's identity signature. Diverging targets are charged the
// unmatched penalty: pointing at a different kind of thing is as strong a
// mismatch signal as a missing child.
func (s *Session) refCost(v, l instance.RefValue) int64 {
	if s.lookupVirtual == nil || s.lookupLive == nil {
		return 0
	}
	vRef := instance.Ref(v)
	lRef := instance.Ref(l)
	if vRef.IsNone() && lRef.IsNone() {
		return 0
	}

	vSig, vOK := s.lookupVirtual(vRef)
	lSig, lOK := s.lookupLive(lRef)
	if !vOK && !lOK {
		return 0
	}
	if vOK != lOK || vSig != lSig {
		return UnmatchedPenalty
	}
	return 0
}
