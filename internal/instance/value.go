package instance

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the concrete type of a property value. The set of kinds is
// closed: adding a new kind means extending every switch over Kind, which is
// intentional so the compiler flags missing cases in the codecs and the
// matching cost function.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindBool
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindEnum
	KindVector3
	KindColor3
	KindBinary
	KindRef
	KindTags
	KindAttributes
)

// String returns the canonical name of the kind as used in JSON model files.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindEnum:
		return "enum"
	case KindVector3:
		return "vector3"
	case KindColor3:
		return "color3"
	case KindBinary:
		return "binary"
	case KindRef:
		return "ref"
	case KindTags:
		return "tags"
	case KindAttributes:
		return "attributes"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindFromString parses a kind name from a JSON model file.
func KindFromString(s string) (Kind, bool) {
	switch s {
	case "string":
		return KindString, true
	case "bool":
		return KindBool, true
	case "int32":
		return KindInt32, true
	case "int64":
		return KindInt64, true
	case "float32":
		return KindFloat32, true
	case "float64":
		return KindFloat64, true
	case "enum":
		return KindEnum, true
	case "vector3":
		return KindVector3, true
	case "color3":
		return KindColor3, true
	case "binary":
		return KindBinary, true
	case "ref":
		return KindRef, true
	case "tags":
		return KindTags, true
	case "attributes":
		return KindAttributes, true
	}
	return 0, false
}

// Value is a property value. Implementations form a closed sum; the isValue
// marker keeps external packages from adding cases the codecs don't know.
type Value interface {
	Kind() Kind
	isValue()
}

// String is a UTF-8 text value.
type String string

// Bool is a boolean value.
type Bool bool

// Int32 is a 32-bit signed integer value.
type Int32 int32

// Int64 is a 64-bit signed integer value.
type Int64 int64

// Float32 is a 32-bit float value.
type Float32 float32

// Float64 is a 64-bit float value.
type Float64 float64

// Enum is an enum item stored as its integer value.
type Enum int32

// Vector3 is a position-like geometric value.
type Vector3 struct {
	X, Y, Z float64
}

// Color3 is a color-like value with components in [0, 1].
type Color3 struct {
	R, G, B float64
}

// Binary is an opaque byte blob.
type Binary []byte

// RefValue is a reference property pointing at another instance in the same
// tree. The handle is tree-local; on disk it is persisted as a relative path
// attribute, never as the raw handle.
type RefValue Ref

// Tags is a set of string tags. Stored sorted so equality and serialization
// are order-independent.
type Tags []string

// Attributes is a string-keyed map of user-defined metadata values.
type Attributes map[string]Value

func (String) Kind() Kind     { return KindString }
func (Bool) Kind() Kind       { return KindBool }
func (Int32) Kind() Kind      { return KindInt32 }
func (Int64) Kind() Kind      { return KindInt64 }
func (Float32) Kind() Kind    { return KindFloat32 }
func (Float64) Kind() Kind    { return KindFloat64 }
func (Enum) Kind() Kind       { return KindEnum }
func (Vector3) Kind() Kind    { return KindVector3 }
func (Color3) Kind() Kind     { return KindColor3 }
func (Binary) Kind() Kind     { return KindBinary }
func (RefValue) Kind() Kind   { return KindRef }
func (Tags) Kind() Kind       { return KindTags }
func (Attributes) Kind() Kind { return KindAttributes }

func (String) isValue()     {}
func (Bool) isValue()       {}
func (Int32) isValue()      {}
func (Int64) isValue()      {}
func (Float32) isValue()    {}
func (Float64) isValue()    {}
func (Enum) isValue()       {}
func (Vector3) isValue()    {}
func (Color3) isValue()     {}
func (Binary) isValue()     {}
func (RefValue) isValue()   {}
func (Tags) isValue()       {}
func (Attributes) isValue() {}

// NormalizeTags returns a sorted, deduplicated copy of the tag list.
func NormalizeTags(tags []string) Tags {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	sort.Strings(out)
	n := 0
	for i, t := range out {
		if i == 0 || out[i-1] != t {
			out[n] = t
			n++
		}
	}
	return Tags(out[:n])
}

// floatDiskPrecision is the number of significant digits the writers use when
// serializing floats to disk. SerializeFloat and the disk-oriented comparison
// strategy must agree on this exactly.
const floatDiskPrecision = 6

// SerializeFloat renders a float the way the on-disk writers do. Two floats
// are disk-equal iff this function returns the same string for both.
func SerializeFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', floatDiskPrecision, 64)
}

// Serialize renders a value in its exact on-disk textual form. Used by the
// disk-oriented matching strategy: values that serialize identically are
// equal for file-diffing purposes even when their bit patterns differ.
func Serialize(v Value) string {
	switch v := v.(type) {
	case String:
		return strconv.Quote(string(v))
	case Bool:
		if v {
			return "true"
		}
		return "false"
	case Int32:
		return strconv.FormatInt(int64(v), 10)
	case Int64:
		return strconv.FormatInt(int64(v), 10)
	case Float32:
		return SerializeFloat(float64(v))
	case Float64:
		return SerializeFloat(float64(v))
	case Enum:
		return "enum:" + strconv.FormatInt(int64(v), 10)
	case Vector3:
		return SerializeFloat(v.X) + "," + SerializeFloat(v.Y) + "," + SerializeFloat(v.Z)
	case Color3:
		return SerializeFloat(v.R) + "," + SerializeFloat(v.G) + "," + SerializeFloat(v.B)
	case Binary:
		return "binary:" + strconv.Itoa(len(v)) + ":" + hashBytes(v)
	case RefValue:
		return "ref:" + Ref(v).String()
	case Tags:
		return "tags:" + strings.Join(NormalizeTags(v), ",")
	case Attributes:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("attrs:{")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte('=')
			b.WriteString(Serialize(v[k]))
		}
		b.WriteByte('}')
		return b.String()
	}
	return fmt.Sprintf("unknown:%v", v)
}

func hashBytes(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
