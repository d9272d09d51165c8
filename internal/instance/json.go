package instance

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// typedValue is the explicit wire form of a property value in JSON model and
// meta files: {"type": "...", "value": ...}.
type typedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeValueJSON renders a value into the JSON shape used by model and meta
// files. Strings, bools and float64 numbers use their bare JSON form so
// hand-edited files stay readable; every other kind uses the explicit
// {"type", "value"} envelope.
func EncodeValueJSON(v Value) (json.RawMessage, error) {
	switch v := v.(type) {
	case String:
		return json.Marshal(string(v))
	case Bool:
		return json.Marshal(bool(v))
	case Float64:
		return json.Marshal(float64(v))
	}
	raw, err := encodeInner(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(typedValue{Type: v.Kind().String(), Value: raw})
}

func encodeInner(v Value) (json.RawMessage, error) {
	switch v := v.(type) {
	case String:
		return json.Marshal(string(v))
	case Bool:
		return json.Marshal(bool(v))
	case Int32:
		return json.Marshal(int32(v))
	case Int64:
		return json.Marshal(int64(v))
	case Float32:
		return json.Marshal(float32(v))
	case Float64:
		return json.Marshal(float64(v))
	case Enum:
		return json.Marshal(int32(v))
	case Vector3:
		return json.Marshal([3]float64{v.X, v.Y, v.Z})
	case Color3:
		return json.Marshal([3]float64{v.R, v.G, v.B})
	case Binary:
		return json.Marshal(base64.StdEncoding.EncodeToString(v))
	case RefValue:
		return json.Marshal(Ref(v).String())
	case Tags:
		return json.Marshal([]string(NormalizeTags(v)))
	case Attributes:
		out := make(map[string]json.RawMessage, len(v))
		for k, av := range v {
			raw, err := EncodeValueJSON(av)
			if err != nil {
				return nil, err
			}
			out[k] = raw
		}
		return json.Marshal(out)
	}
	return nil, fmt.Errorf("cannot encode value of kind %v", v.Kind())
}

// DecodeValueJSON parses a value from its JSON shape. Bare strings, bools and
// numbers decode as String, Bool and Float64; objects must carry the
// {"type", "value"} envelope.
func DecodeValueJSON(raw json.RawMessage) (Value, error) {
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}

	switch p := probe.(type) {
	case string:
		return String(p), nil
	case bool:
		return Bool(p), nil
	case float64:
		return Float64(p), nil
	case map[string]interface{}:
		var tv typedValue
		if err := json.Unmarshal(raw, &tv); err != nil {
			return nil, err
		}
		kind, ok := KindFromString(tv.Type)
		if !ok {
			return nil, fmt.Errorf("unknown value type %q", tv.Type)
		}
		return decodeInner(kind, tv.Value)
	}
	return nil, fmt.Errorf("unsupported JSON value shape for property")
}

func decodeInner(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case KindInt32:
		var n int32
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return Int32(n), nil
	case KindInt64:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return Int64(n), nil
	case KindFloat32:
		var f float32
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return Float32(f), nil
	case KindFloat64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return Float64(f), nil
	case KindEnum:
		var n int32
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return Enum(n), nil
	case KindVector3:
		var a [3]float64
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return Vector3{X: a[0], Y: a[1], Z: a[2]}, nil
	case KindColor3:
		var a [3]float64
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return Color3{R: a[0], G: a[1], B: a[2]}, nil
	case KindBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return Binary(b), nil
	case KindRef:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		ref, err := ParseRef(s)
		if err != nil {
			return nil, err
		}
		return RefValue(ref), nil
	case KindTags:
		var tags []string
		if err := json.Unmarshal(raw, &tags); err != nil {
			return nil, err
		}
		return NormalizeTags(tags), nil
	case KindAttributes:
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		attrs := make(Attributes, len(m))
		for k, r := range m {
			v, err := DecodeValueJSON(r)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", k, err)
			}
			attrs[k] = v
		}
		return attrs, nil
	}
	return nil, fmt.Errorf("unknown kind %v", kind)
}
