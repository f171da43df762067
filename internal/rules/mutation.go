package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/adscreen/internal/table"
)

// Op is the kind of change an Effect makes.
type Op int

const (
	OpSet Op = iota
	OpAdd
	OpAddFloored
	OpScale
)

// Effect changes one column of a matched record.
type Effect struct {
	Column string
	Op     Op
	Text   string
	Amount float64 // delta for OpAdd and OpAddFloored, factor for OpScale
	Floor  float64
}

// SetText overwrites a column with text.
func SetText(column, text string) Effect {
	return Effect{Column: column, Op: OpSet, Text: text}
}

// Add adds a signed delta to a numeric column.
func Add(column string, delta float64) Effect {
	return Effect{Column: column, Op: OpAdd, Amount: delta}
}

// AddFloored adds a delta and clamps the result to floor.
func AddFloored(column string, delta, floor float64) Effect {
	return Effect{Column: column, Op: OpAddFloored, Amount: delta, Floor: floor}
}

// Scale multiplies a numeric column by factor.
func Scale(column string, factor float64) Effect {
	return Effect{Column: column, Op: OpScale, Amount: factor}
}

// Direction returns +1 when the effect raises a number, -1 when it lowers one,
// and 0 for text effects.
func (e Effect) Direction() int {
	switch e.Op {
	case OpAdd, OpAddFloored:
		switch {
		case e.Amount > 0:
			return 1
		case e.Amount < 0:
			return -1
		}
	case OpScale:
		switch {
		case e.Amount > 1:
			return 1
		case e.Amount < 1:
			return -1
		}
	}
	return 0
}

// Apply performs the effect. Numeric effects leave non-numeric cells untouched.
func (e Effect) Apply(r *table.Record) error {
	if e.Op == OpSet {
		return r.Set(e.Column, table.Text(e.Text))
	}

	if !r.Has(e.Column) {
		return &table.SchemaError{Column: e.Column}
	}
	cur := r.Number(e.Column)
	if math.IsNaN(cur) {
		return nil
	}

	var next float64
	switch e.Op {
	case OpAdd:
		next = cur + e.Amount
	case OpAddFloored:
		next = math.Max(cur+e.Amount, e.Floor)
	case OpScale:
		next = cur * e.Amount
	default:
		return fmt.Errorf("unknown effect op %d", e.Op)
	}
	return r.Set(e.Column, table.Float(next))
}

// Mutation is the ordered list of effects applied to a matched record.
type Mutation []Effect

// Apply runs every effect in order.
func (m Mutation) Apply(r *table.Record) error {
	for _, e := range m {
		if err := e.Apply(r); err != nil {
			return err
		}
	}
	return nil
}

// Columns returns the columns the mutation writes.
func (m Mutation) Columns() []string {
	cols := make([]string, 0, len(m))
	for _, e := range m {
		cols = append(cols, e.Column)
	}
	return cols
}
