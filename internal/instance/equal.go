package instance

import (
	"bytes"
	"math"
)

// FloatStrategy decides how floating-point property values compare. The two
// strategies answer different questions and are never interchangeable:
//
//   - DiskEquality: "would these produce a different file on disk?" Equality
//     is by exact serialized form, including the writer's fixed-precision
//     rounding. Values within any numeric tolerance that serialize
//     differently are NOT equal; values far apart that serialize identically
//     ARE equal.
//   - LiveEquality: "is this the same value for live-editing purposes?" Uses
//     a small relative+absolute epsilon so round-tripping through the engine
//     does not oscillate.
//
// Callers must pick one explicitly.
type FloatStrategy uint8

const (
	// DiskEquality compares floats by their exact on-disk serialized form.
	DiskEquality FloatStrategy = iota
	// LiveEquality compares floats with an epsilon tolerance.
	LiveEquality
)

const (
	epsilonRel = 1e-6
	epsilonAbs = 1e-9
)

func (s FloatStrategy) floatEq(a, b float64) bool {
	switch s {
	case DiskEquality:
		return SerializeFloat(a) == SerializeFloat(b)
	case LiveEquality:
		if a == b {
			return true
		}
		diff := math.Abs(a - b)
		if diff <= epsilonAbs {
			return true
		}
		largest := math.Max(math.Abs(a), math.Abs(b))
		return diff <= largest*epsilonRel
	}
	return false
}

// ValuesEqual compares two property values under the given float strategy.
// Values of different kinds are never equal. Reference values compare by
// handle; cross-tree reference comparison belongs to the matching engine's
// identity-signature logic, not here.
func ValuesEqual(a, b Value, strategy FloatStrategy) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}

	switch av := a.(type) {
	case String:
		return av == b.(String)
	case Bool:
		return av == b.(Bool)
	case Int32:
		return av == b.(Int32)
	case Int64:
		return av == b.(Int64)
	case Float32:
		return strategy.floatEq(float64(av), float64(b.(Float32)))
	case Float64:
		return strategy.floatEq(float64(av), float64(b.(Float64)))
	case Enum:
		return av == b.(Enum)
	case Vector3:
		bv := b.(Vector3)
		return strategy.floatEq(av.X, bv.X) &&
			strategy.floatEq(av.Y, bv.Y) &&
			strategy.floatEq(av.Z, bv.Z)
	case Color3:
		bv := b.(Color3)
		return strategy.floatEq(av.R, bv.R) &&
			strategy.floatEq(av.G, bv.G) &&
			strategy.floatEq(av.B, bv.B)
	case Binary:
		return bytes.Equal(av, b.(Binary))
	case RefValue:
		return av == b.(RefValue)
	case Tags:
		return tagsEqual(av, b.(Tags))
	case Attributes:
		bv := b.(Attributes)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !ValuesEqual(v, other, strategy) {
				return false
			}
		}
		return true
	}
	return false
}

func tagsEqual(a, b Tags) bool {
	an := NormalizeTags(a)
	bn := NormalizeTags(b)
	if len(an) != len(bn) {
		return false
	}
	for i := range an {
		if an[i] != bn[i] {
			return false
		}
	}
	return true
}

// PropertiesEqual compares two property maps under the given strategy.
func PropertiesEqual(a, b map[string]Value, strategy FloatStrategy) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || !ValuesEqual(v, other, strategy) {
			return false
		}
	}
	return true
}
