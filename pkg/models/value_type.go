package models

import "encoding/json"

// ValueType is the coarse JSON type of a value flowing along an edge.
type ValueType string

const (
	ValueTypeAny     ValueType = "any"
	ValueTypeNumber  ValueType = "number"
	ValueTypeString  ValueType = "string"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeObject  ValueType = "object"
	ValueTypeArray   ValueType = "array"
	ValueTypeNull    ValueType = "null"
)

// Accepts reports whether a handle declared with type t accepts a value of type actual.
// Unknown (empty) and null values are accepted everywhere; they carry no shape yet.
func (t ValueType) Accepts(actual ValueType) bool {
	if t == "" || t == ValueTypeAny {
		return true
	}

	if actual == "" || actual == ValueTypeNull || actual == ValueTypeAny {
		return true
	}

	return t == actual
}

// ValueTypeOf classifies a decoded JSON value.
func ValueTypeOf(v any) ValueType {
	switch v.(type) {
	case nil:
		return ValueTypeNull
	case bool:
		return ValueTypeBoolean
	case string:
		return ValueTypeString
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return ValueTypeNumber
	case map[string]any:
		return ValueTypeObject
	case []any:
		return ValueTypeArray
	default:
		return ValueTypeAny
	}
}
