package sheet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the concrete type carried by a Value.
type Kind int

const (
	KindEmpty Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a single cell value: a string, a number, a boolean or empty.
// The grid stores values of mixed kinds; all normalization (numeric parsing,
// stringification) goes through the methods here so every component agrees
// on what a cell "is".
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

func Empty() Value        { return Value{} }
func Str(s string) Value  { return Value{kind: KindString, str: s} }
func Num(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value   { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether the cell is empty. An empty string counts as
// empty: validation and the average derivation both treat it that way.
func (v Value) IsEmpty() bool {
	return v.kind == KindEmpty || (v.kind == KindString && v.str == "")
}

// String renders the value the way it is shown in a cell. Numbers use the
// shortest decimal representation, booleans render as "true"/"false".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	}
	return ""
}

// Numeric parses the value as a number after normalizing a comma decimal
// separator to a period. The second return is false for empty cells,
// booleans and strings that do not parse.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		s := strings.TrimSpace(strings.ReplaceAll(v.str, ",", "."))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MarshalJSON encodes the value as the native JSON scalar so persisted
// grids stay interchangeable with data written by earlier versions.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Empty()
	case string:
		*v = Str(t)
	case float64:
		*v = Num(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("cell value must be a scalar, got %T", raw)
	}
	return nil
}
