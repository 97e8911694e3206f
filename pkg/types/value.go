// Package types defines the value and error types shared by the formula engine
// and the particle runtime. A formula evaluates to either a single number or an
// ordered list of numbers (the argument list of min/max).
package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ValueType represents the type of a formula value.
type ValueType int

const (
	TypeNumber ValueType = iota // float64
	TypeList                    // []float64
)

// String returns the type name used in diagnostics.
func (t ValueType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is the result of evaluating a formula. It is a small tagged union so
// scalar results never allocate.
type Value struct {
	typ     ValueType
	num     float64
	listVal []float64
}

// NewNumber creates a number value.
func NewNumber(f float64) Value {
	return Value{typ: TypeNumber, num: f}
}

// NewList creates a list value. The slice is owned by the value afterwards.
func NewList(items []float64) Value {
	return Value{typ: TypeList, listVal: items}
}

// Type returns the value's type.
func (v Value) Type() ValueType { return v.typ }

// IsList reports whether the value is a list.
func (v Value) IsList() bool { return v.typ == TypeList }

// AsNumber returns the scalar and whether the value is a number.
func (v Value) AsNumber() (float64, bool) {
	if v.typ != TypeNumber {
		return 0, false
	}
	return v.num, true
}

// AsList returns the list items. A number is returned as a one-element list.
func (v Value) AsList() []float64 {
	if v.typ == TypeList {
		return v.listVal
	}
	return []float64{v.num}
}

// Len returns the number of scalars carried by the value.
func (v Value) Len() int {
	if v.typ == TypeList {
		return len(v.listVal)
	}
	return 1
}

// Equal compares two values. NaN equals NaN so that evaluation results can be
// compared for determinism.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	if v.typ == TypeNumber {
		return floatEqual(v.num, other.num)
	}
	if len(v.listVal) != len(other.listVal) {
		return false
	}
	for i := range v.listVal {
		if !floatEqual(v.listVal[i], other.listVal[i]) {
			return false
		}
	}
	return true
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

// String renders the value for logs and CLI output.
func (v Value) String() string {
	if v.typ == TypeNumber {
		return formatFloat(v.num)
	}
	parts := make([]string, len(v.listVal))
	for i, f := range v.listVal {
		parts[i] = formatFloat(f)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// MarshalJSON encodes numbers as JSON numbers and lists as arrays. JSON has no
// representation for Inf and NaN, so those are encoded as the strings
// "+Inf", "-Inf" and "NaN".
func (v Value) MarshalJSON() ([]byte, error) {
	if v.typ == TypeNumber {
		return json.Marshal(JSONNumber(v.num))
	}
	items := make([]interface{}, len(v.listVal))
	for i, f := range v.listVal {
		items[i] = JSONNumber(f)
	}
	return json.Marshal(items)
}

// JSONNumber returns f, or its string form when f is not finite.
func JSONNumber(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return f
	}
}
