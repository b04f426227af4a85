package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindEnum
	// KindOpaque carries raw JSON for paths the schema does not declare.
	KindOpaque
)

// String returns the kind name as used in logs and the HTTP API.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindOpaque:
		return "opaque"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the attribute types a device reports.
// The zero Value is invalid.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	raw  json.RawMessage
}

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating-point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// String returns a free-form string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Enum returns a value drawn from a known option set.
func Enum(v string) Value { return Value{kind: KindEnum, s: v} }

// Opaque wraps raw JSON. The bytes are compacted so equal documents compare equal.
func Opaque(raw []byte) Value {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Value{kind: KindOpaque, raw: append(json.RawMessage(nil), raw...)}
	}
	return Value{kind: KindOpaque, raw: buf.Bytes()}
}

// ValueOf converts a Go value into a Value. Supported: integer and float
// types, bool, string, json.RawMessage and Value itself.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return Int(int64(v)), nil
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case float32:
		return Float(float64(v)), nil
	case float64:
		return Float(v), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.RawMessage:
		return Opaque(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", v)
		}
		return Float(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// ParseValue interprets text as the given kind. Used by the CLI and the
// MQTT/HTTP adapters, where values arrive as strings.
func ParseValue(kind Kind, text string) (Value, error) {
	switch kind {
	case KindInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(text, 64)
			if ferr != nil || f != math.Trunc(f) {
				return Value{}, fmt.Errorf("%q is not an integer", text)
			}
			i = int64(f)
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", text)
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			switch text {
			case "on", "ON", "yes":
				return Bool(true), nil
			case "off", "OFF", "no":
				return Bool(false), nil
			}
			return Value{}, fmt.Errorf("%q is not a boolean", text)
		}
		return Bool(b), nil
	case KindString:
		return String(text), nil
	case KindEnum:
		return Enum(text), nil
	case KindOpaque:
		if !json.Valid([]byte(text)) {
			return Value{}, fmt.Errorf("%q is not valid JSON", text)
		}
		return Opaque([]byte(text)), nil
	default:
		return Value{}, fmt.Errorf("cannot parse value of kind %s", kind)
	}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsInt returns the integer content. Floats with no fractional part convert.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == math.Trunc(v.f) {
			return int64(v.f), true
		}
	}
	return 0, false
}

// AsFloat returns the numeric content of an int or float value.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// AsBool returns the boolean content.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// AsString returns the text of a string or enum value.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString || v.kind == KindEnum {
		return v.s, true
	}
	return "", false
}

// Raw returns the JSON encoding of the value.
func (v Value) Raw() json.RawMessage {
	b, _ := v.MarshalJSON()
	return b
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString, KindEnum:
		return v.s
	case KindOpaque:
		return v.raw
	default:
		return nil
	}
}

// Equal compares two values. Numbers compare numerically across int and
// float; strings compare equal to enums with the same text.
func (v Value) Equal(o Value) bool {
	if a, ok := v.AsFloat(); ok {
		b, ok := o.AsFloat()
		return ok && a == b
	}
	if a, ok := v.AsString(); ok {
		b, ok := o.AsString()
		return ok && a == b
	}
	switch v.kind {
	case KindBool:
		return o.kind == KindBool && v.b == o.b
	case KindOpaque:
		return o.kind == KindOpaque && bytes.Equal(v.raw, o.raw)
	case KindInvalid:
		return o.kind == KindInvalid
	}
	return false
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString, KindEnum:
		return v.s
	case KindOpaque:
		return string(v.raw)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the value as its plain JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindOpaque:
		return v.raw, nil
	case KindInvalid:
		return []byte("null"), nil
	default:
		return json.Marshal(v.Interface())
	}
}

// AttributeValue is one observed attribute: its path, value, and the
// revision the Store assigned when it was applied.
type AttributeValue struct {
	Path      DevicePath `json:"path"`
	Value     Value      `json:"value"`
	Revision  uint64     `json:"revision"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MarshalJSON adds the value kind next to the value.
func (a AttributeValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path      DevicePath `json:"path"`
		Kind      string     `json:"kind"`
		Value     Value      `json:"value"`
		Revision  uint64     `json:"revision"`
		UpdatedAt time.Time  `json:"updated_at"`
	}{a.Path, a.Value.Kind().String(), a.Value, a.Revision, a.UpdatedAt})
}
