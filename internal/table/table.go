package table

import (
	"fmt"
	"math"
)

// Schema is an ordered, immutable list of column names.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema builds a schema. Duplicate names keep their first position.
func NewSchema(columns ...string) *Schema {
	s := &Schema{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if _, ok := s.index[c]; ok {
			continue
		}
		s.index[c] = len(s.columns)
		s.columns = append(s.columns, c)
	}
	return s
}

// Columns returns a copy of the column names in order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// Index returns the position of a column.
func (s *Schema) Index(column string) (int, bool) {
	i, ok := s.index[column]
	return i, ok
}

// Has reports whether the column exists.
func (s *Schema) Has(column string) bool {
	_, ok := s.index[column]
	return ok
}

// Require returns a *SchemaError naming the first absent column.
func (s *Schema) Require(columns ...string) error {
	for _, c := range columns {
		if !s.Has(c) {
			return &SchemaError{Column: c}
		}
	}
	return nil
}

// Record is one row bound to a schema.
type Record struct {
	schema *Schema
	values []Value
}

// Has reports whether the record's schema has the column.
func (r *Record) Has(column string) bool {
	return r.schema.Has(column)
}

// Get returns the cell for a column, or Null when the column is absent.
func (r *Record) Get(column string) Value {
	i, ok := r.schema.index[column]
	if !ok {
		return Null()
	}
	return r.values[i]
}

// Number returns the numeric reading of a column, NaN when absent or non-numeric.
func (r *Record) Number(column string) float64 {
	i, ok := r.schema.index[column]
	if !ok {
		return math.NaN()
	}
	return r.values[i].Number()
}

// Text returns the string form of a column.
func (r *Record) Text(column string) string {
	return r.Get(column).String()
}

// Set overwrites a single cell.
func (r *Record) Set(column string, v Value) error {
	i, ok := r.schema.index[column]
	if !ok {
		return &SchemaError{Column: column}
	}
	r.values[i] = v
	return nil
}

// Values returns a copy of the row cells in schema order.
func (r *Record) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

// Table is an ordered sequence of records sharing one schema.
// Views returned by Slice, Chunks and Select share record pointers with
// their source, so a mutation through a view is visible in the source.
type Table struct {
	schema *Schema
	rows   []*Record
}

// New returns an empty table.
func New(schema *Schema) *Table {
	return &Table{schema: schema}
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns the i-th record.
func (t *Table) Row(i int) *Record { return t.rows[i] }

// Rows returns the records in order. Callers must not append to the slice.
func (t *Table) Rows() []*Record { return t.rows[:len(t.rows):len(t.rows)] }

// Append adds a row built from values in schema order.
func (t *Table) Append(values ...Value) (*Record, error) {
	if len(values) != t.schema.Len() {
		return nil, fmt.Errorf("row has %d values, schema has %d columns", len(values), t.schema.Len())
	}
	rec := &Record{schema: t.schema, values: append([]Value(nil), values...)}
	t.rows = append(t.rows, rec)
	return rec, nil
}

// AppendRecord adds an existing record. The record must share the table schema.
func (t *Table) AppendRecord(r *Record) error {
	if r.schema != t.schema {
		return fmt.Errorf("record schema does not match table schema")
	}
	t.rows = append(t.rows, r)
	return nil
}

// Slice returns a view over rows [lo, hi).
func (t *Table) Slice(lo, hi int) *Table {
	if lo < 0 {
		lo = 0
	}
	if hi > len(t.rows) {
		hi = len(t.rows)
	}
	if lo > hi {
		lo = hi
	}
	return &Table{schema: t.schema, rows: t.rows[lo:hi:hi]}
}

// Chunks splits the table into contiguous views of at most size rows.
func (t *Table) Chunks(size int) []*Table {
	if size <= 0 || len(t.rows) == 0 {
		return nil
	}
	chunks := make([]*Table, 0, (len(t.rows)+size-1)/size)
	for lo := 0; lo < len(t.rows); lo += size {
		chunks = append(chunks, t.Slice(lo, lo+size))
	}
	return chunks
}

// Select returns a view holding the rows for which keep returns true.
func (t *Table) Select(keep func(*Record) (bool, error)) (*Table, error) {
	out := &Table{schema: t.schema}
	for _, r := range t.rows {
		ok, err := keep(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out.rows = append(out.rows, r)
		}
	}
	return out, nil
}

// Clone returns a deep copy with fresh records.
func (t *Table) Clone() *Table {
	out := &Table{schema: t.schema, rows: make([]*Record, len(t.rows))}
	for i, r := range t.rows {
		out.rows[i] = &Record{schema: t.schema, values: r.Values()}
	}
	return out
}

// Concat joins parts in order, skipping empty ones. The result is never nil.
// Parts whose schema differs from schema are rejected.
func Concat(schema *Schema, parts ...*Table) (*Table, error) {
	out := New(schema)
	for _, p := range parts {
		if p == nil || p.Len() == 0 {
			continue
		}
		if p.schema != schema {
			return nil, fmt.Errorf("cannot concatenate tables with different schemas")
		}
		out.rows = append(out.rows, p.rows...)
	}
	return out, nil
}
