// Package transform maps real-world measurements to and from the discrete
// ordinal states used by the network.
//
// A Transform is a closed variant: *Continuous or *Categorical. Encode and
// Decode match on it exhaustively. The best-effort fallbacks (unseen labels,
// unparseable numbers, out-of-range states) are explicit policies documented
// on the concrete types rather than a catch-all default.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"ecosim/domain/catalogue"
)

// Transform is an invertible mapping between real values and states 0..Cardinality()-1
type Transform interface {
	Kind() catalogue.Kind
	Cardinality() int
	isTransform()
}

// Encode maps a real value to a state index
func Encode(t Transform, v Value) (int, error) {
	switch tr := t.(type) {
	case *Continuous:
		return tr.encode(v), nil
	case *Categorical:
		return tr.encode(v), nil
	default:
		return 0, fmt.Errorf("unsupported transform %T", t)
	}
}

// Decode maps a state index back to a real value. Out-of-range states decode to Unknown.
func Decode(t Transform, state int) Value {
	switch tr := t.(type) {
	case *Continuous:
		return tr.decode(state)
	case *Categorical:
		return tr.decode(state)
	default:
		return Unknown
	}
}

// ValueKind tags a Value
type ValueKind uint8

const (
	ValueUnknown ValueKind = iota
	ValueNumber
	ValueLabel
)

// Value is a real-world measurement: a number, a category label, or Unknown
type Value struct {
	kind   ValueKind
	number float64
	label  string
}

// Unknown is the sentinel returned when a state cannot be decoded
var Unknown = Value{kind: ValueUnknown}

// UnknownLabel is how Unknown renders
const UnknownLabel = "UNKNOWN"

// Number wraps a continuous measurement
func Number(f float64) Value {
	return Value{kind: ValueNumber, number: f}
}

// Label wraps a category
func Label(s string) Value {
	return Value{kind: ValueLabel, label: s}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsUnknown() bool { return v.kind == ValueUnknown }

// AsNumber returns the numeric value; labels that parse as numbers are accepted
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case ValueNumber:
		return v.number, true
	case ValueLabel:
		f, err := strconv.ParseFloat(v.label, 64)
		return f, err == nil
	default:
		return math.NaN(), false
	}
}

// AsLabel returns the label form of the value
func (v Value) AsLabel() string {
	switch v.kind {
	case ValueNumber:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	case ValueLabel:
		return v.label
	default:
		return UnknownLabel
	}
}

func (v Value) String() string {
	return v.AsLabel()
}

// MarshalJSON renders numbers as JSON numbers and everything else as strings
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == ValueNumber && !math.IsNaN(v.number) && !math.IsInf(v.number, 0) {
		return json.Marshal(v.number)
	}
	return json.Marshal(v.AsLabel())
}

// UnmarshalJSON accepts a JSON number or string
func (v *Value) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("value must be a number or string: %w", err)
	}
	if s == UnknownLabel {
		*v = Unknown
		return nil
	}
	*v = Label(s)
	return nil
}
