// Package table provides the in-memory tabular model screened by the rule engine.
package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindInt
	KindFloat
	KindDate
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// Value is a single typed cell.
type Value struct {
	kind Kind
	text string
	num  float64
	i    int64
	date time.Time
}

// Null returns the empty cell.
func Null() Value { return Value{} }

// Text returns a text cell.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Int returns an integer cell.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float cell.
func Float(f float64) Value { return Value{kind: KindFloat, num: f} }

// Date returns a date cell.
func Date(t time.Time) Value { return Value{kind: KindDate, date: t} }

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the cell is empty.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number returns the numeric reading of the cell.
// Text that parses as a number is accepted; anything else is NaN.
func (v Value) Number() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindFloat:
		return v.num
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// Time returns the date held by the cell, parsing text cells on demand.
func (v Value) Time() (time.Time, error) {
	switch v.kind {
	case KindDate:
		return v.date, nil
	case KindText:
		return ParseDate(v.text)
	default:
		return time.Time{}, &InvalidDateError{Value: v.String()}
	}
}

// String formats the cell the way it is written to CSV.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindDate:
		return v.date.Format(DateLayout)
	default:
		return ""
	}
}

// Equal reports whether two cells hold the same kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindDate:
		return v.date.Equal(o.date)
	default:
		return true
	}
}

// DateLayout is the canonical output format for date cells.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"20060102",
	"2006/01/02",
	"2006/1/2",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
}

// ParseDate parses the date formats found in advertising bulk exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &InvalidDateError{Value: s}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &InvalidDateError{Value: s}
}
