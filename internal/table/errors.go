package table

import "fmt"

// SchemaError reports a required column that is absent from a table.
type SchemaError struct {
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required column %q", e.Column)
}

// InvalidDateError reports a cell that cannot be read as a date.
type InvalidDateError struct {
	Column string
	Value  string
}

func (e *InvalidDateError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("invalid date %q", e.Value)
	}
	return fmt.Sprintf("invalid date %q in column %q", e.Value, e.Column)
}
