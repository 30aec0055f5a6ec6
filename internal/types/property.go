package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PropertyType is the declared kind of a type property: the tag of the
// value union without a value.
type PropertyType int

// Property type constants. Stored as integer codes in the schema; do not
// renumber.
const (
	PropertyTypeUnknown PropertyType = iota
	PropertyTypeInt
	PropertyTypeDouble
	PropertyTypeString
)

// IsValid checks if the property type is one of the three storable kinds.
func (t PropertyType) IsValid() bool {
	switch t {
	case PropertyTypeInt, PropertyTypeDouble, PropertyTypeString:
		return true
	}
	return false
}

func (t PropertyType) String() string {
	switch t {
	case PropertyTypeInt:
		return "INT"
	case PropertyTypeDouble:
		return "DOUBLE"
	case PropertyTypeString:
		return "STRING"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// PropertyValue is a tagged union over {int64, float64, string}. The zero
// value carries no tag and fails validation; build values with IntValue,
// DoubleValue, or StringValue. Values are comparable with == when the tags
// match.
type PropertyValue struct {
	t PropertyType
	i int64
	d float64
	s string
}

// IntValue returns a property value holding an int64.
func IntValue(v int64) PropertyValue { return PropertyValue{t: PropertyTypeInt, i: v} }

// DoubleValue returns a property value holding a float64.
func DoubleValue(v float64) PropertyValue { return PropertyValue{t: PropertyTypeDouble, d: v} }

// StringValue returns a property value holding a string.
func StringValue(v string) PropertyValue { return PropertyValue{t: PropertyTypeString, s: v} }

// Type returns the tag of the value; PropertyTypeUnknown for the zero value.
func (v PropertyValue) Type() PropertyType { return v.t }

// AsInt returns the held int64, or zero when the tag is not Int.
func (v PropertyValue) AsInt() int64 { return v.i }

// AsDouble returns the held float64, or zero when the tag is not Double.
func (v PropertyValue) AsDouble() float64 { return v.d }

// AsString returns the held string, or empty when the tag is not String.
func (v PropertyValue) AsString() string { return v.s }

func (v PropertyValue) String() string {
	switch v.t {
	case PropertyTypeInt:
		return strconv.FormatInt(v.i, 10)
	case PropertyTypeDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case PropertyTypeString:
		return v.s
	}
	return "<unset>"
}

// propertyValueJSON is the wire form of PropertyValue: exactly one of the
// three fields is present.
type propertyValueJSON struct {
	Int    *int64   `json:"int_value,omitempty"`
	Double *float64 `json:"double_value,omitempty"`
	String *string  `json:"string_value,omitempty"`
}

// MarshalJSON emits the value as {"int_value":…}, {"double_value":…}, or
// {"string_value":…}.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	var out propertyValueJSON
	switch v.t {
	case PropertyTypeInt:
		out.Int = &v.i
	case PropertyTypeDouble:
		out.Double = &v.d
	case PropertyTypeString:
		out.String = &v.s
	default:
		return nil, fmt.Errorf("cannot marshal unset property value")
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the wire form produced by MarshalJSON.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var in propertyValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Int != nil:
		*v = IntValue(*in.Int)
	case in.Double != nil:
		*v = DoubleValue(*in.Double)
	case in.String != nil:
		*v = StringValue(*in.String)
	default:
		return fmt.Errorf("property value has no tagged field")
	}
	return nil
}
