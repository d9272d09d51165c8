package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiskEqualityFollowsSerializedForm(t *testing.T) {
	// Far apart numerically, identical once rounded to disk precision.
	a, b := Float64(1234561), Float64(1234564)
	assert.Equal(t, SerializeFloat(float64(a)), SerializeFloat(float64(b)))
	assert.True(t, ValuesEqual(a, b, DiskEquality))
	assert.False(t, ValuesEqual(a, b, LiveEquality))
}

func TestLiveEqualityToleratesEditingNoise(t *testing.T) {
	// Inside the live tolerance window, but rounds to different text.
	a, b := Float64(0.12345649), Float64(0.12345651)
	assert.NotEqual(t, SerializeFloat(float64(a)), SerializeFloat(float64(b)))
	assert.False(t, ValuesEqual(a, b, DiskEquality))
	assert.True(t, ValuesEqual(a, b, LiveEquality))
}

func TestValuesEqualRejectsKindMismatch(t *testing.T) {
	assert.False(t, ValuesEqual(String("1"), Float64(1), DiskEquality))
	assert.False(t, ValuesEqual(Int32(1), Int64(1), DiskEquality))
	assert.False(t, ValuesEqual(nil, Bool(false), DiskEquality))
	assert.True(t, ValuesEqual(nil, nil, DiskEquality))
}

func TestVector3ComparesPerComponent(t *testing.T) {
	a := Vector3{X: 1, Y: 2, Z: 3}
	assert.True(t, ValuesEqual(a, Vector3{X: 1, Y: 2, Z: 3}, DiskEquality))
	assert.False(t, ValuesEqual(a, Vector3{X: 1, Y: 2, Z: 4}, DiskEquality))
	assert.True(t, ValuesEqual(a, Vector3{X: 1 + 1e-10, Y: 2, Z: 3}, LiveEquality))
}

func TestTagsEqualityIsOrderIndependent(t *testing.T) {
	a := Tags{"b", "a", "a"}
	b := Tags{"a", "b"}
	assert.True(t, ValuesEqual(a, b, DiskEquality))
	assert.False(t, ValuesEqual(a, Tags{"a", "c"}, DiskEquality))
}

func TestAttributesCompareRecursively(t *testing.T) {
	a := Attributes{"Depth": Attributes{"Value": Float64(1234561)}}
	b := Attributes{"Depth": Attributes{"Value": Float64(1234564)}}
	assert.True(t, ValuesEqual(a, b, DiskEquality), "inner floats inherit the strategy")
	assert.False(t, ValuesEqual(a, b, LiveEquality))
	assert.False(t, ValuesEqual(a, Attributes{}, DiskEquality))
}

func TestNormalizeTagsSortsAndDedupes(t *testing.T) {
	assert.Equal(t, Tags{"a", "b", "c"}, NormalizeTags([]string{"c", "a", "b", "a"}))
	assert.Empty(t, NormalizeTags(nil))
}

func TestSerializeIsDeterministicForAttributes(t *testing.T) {
	attrs := Attributes{"Zeta": Bool(true), "Alpha": String("x"), "Mid": Int32(7)}
	first := Serialize(attrs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Serialize(attrs))
	}
}

func TestValueJSONRoundTripRepresentativeKinds(t *testing.T) {
	values := []Value{
		String("hello"),
		Bool(true),
		Float64(0.5),
		Int64(1 << 40),
		Enum(3),
		Vector3{X: 1, Y: -2, Z: 0.5},
		Binary("\x00\x01\xff"),
		Tags{"a", "b"},
		Attributes{"Speed": Float64(16), "Name": String("x")},
	}
	for _, v := range values {
		raw, err := EncodeValueJSON(v)
		assert.NoError(t, err)
		got, err := DecodeValueJSON(raw)
		assert.NoError(t, err)
		assert.True(t, ValuesEqual(v, got, DiskEquality), "round trip of %s: %s", v.Kind(), raw)
	}
}
