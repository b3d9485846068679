package store

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/gemstore/errors"
)

// Kind is the type discriminant of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged scalar or array. The payload is only meaningful under
// its Kind. Objects are not representable; decoding one fails with
// ErrUnsupportedValueShape.
//
// The zero Value is None.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	items []Value
}

// None returns the null value.
func None() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding copies of items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	for i, item := range items {
		cp[i] = item.Clone()
	}
	return Value{kind: KindArray, items: cp}
}

// Kind returns the discriminant.
func (v Value) Kind() Kind { return v.kind }

// BoolValue returns the payload of a Bool value.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// IntValue returns the payload of an Int value.
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }

// FloatValue returns the payload of a Float value.
func (v Value) FloatValue() (float64, bool) { return v.f, v.kind == KindFloat }

// StringValue returns the payload of a String value.
func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }

// Items returns a copy of the elements of an Array value.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return Array(v.items...).items, true
}

// Clone returns a deep copy; arrays never share backing storage.
func (v Value) Clone() Value {
	if v.kind != KindArray {
		return v
	}
	return Array(v.items...)
}

// Equal reports structural equality, including the discriminant.
// Int(1) and Float(1) are not equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders the value as JSON text.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(data)
}

// MarshalJSON encodes the value. Floats always carry a fraction or exponent
// so they decode back as floats on the other side.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNone:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		text := strconv.FormatFloat(v.f, 'g', -1, 64)
		if strings.ContainsAny(text, "IN") {
			return errors.Newf("float %s cannot be encoded as JSON", text)
		}
		if !strings.ContainsAny(text, ".eE") {
			text += ".0"
		}
		buf.WriteString(text)
	case KindString:
		data, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return errors.Newf("cannot encode value of %s", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes a JSON scalar or array.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// FromJSON decodes one JSON document into a Value.
// Integral literals that fit in int64 become Int, other numbers Float.
// Objects, at any depth, fail with ErrUnsupportedValueShape.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, errors.NewMalformedMessageError(err, "decode value")
	}
	if dec.More() {
		return Value{}, errors.Wrap(errors.ErrMalformedMessage, "trailing data after value")
	}
	return FromInterface(raw)
}

// FromInterface converts a decoded JSON or TOML document into a Value.
func FromInterface(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return None(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return fromNumber(string(x))
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []interface{}:
		items := make([]Value, 0, len(x))
		for i, elem := range x {
			item, err := FromInterface(elem)
			if err != nil {
				return Value{}, errors.Wrapf(err, "array element %d", i)
			}
			items = append(items, item)
		}
		return Value{kind: KindArray, items: items}, nil
	case map[string]interface{}:
		return Value{}, errors.WithHint(
			errors.Wrap(errors.ErrUnsupportedValueShape, "object values are not stored"),
			"store scalars or arrays; flatten objects into separate keys")
	default:
		return Value{}, errors.Wrapf(errors.ErrUnsupportedValueShape, "unsupported value type %T", raw)
	}
}

func fromNumber(text string) (Value, error) {
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Value{}, errors.NewMalformedMessageError(err, "decode number")
	}
	return Float(f), nil
}

// KeyValuePair is the unit of bulk transfer.
type KeyValuePair struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
