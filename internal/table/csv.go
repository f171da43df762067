package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const utf8BOM = "\ufeff"

// ReadCSV loads a table from CSV with a header row.
// kinds maps column names to the kind their cells are parsed as; unlisted
// columns are kept as text. Blank cells become Null, and cells that do not
// parse as their declared kind are kept as text.
func ReadCSV(r io.Reader, kinds map[string]Kind) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := New(NewSchema(header...))
	colKinds := make([]Kind, len(header))
	for i, c := range header {
		colKinds[i] = kinds[c]
	}

	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line+1, err)
		}
		line++

		values := make([]Value, t.schema.Len())
		for i := range values {
			if i >= len(fields) {
				continue
			}
			values[i] = parseCell(fields[i], colKinds[i])
		}
		if _, err := t.Append(values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseCell(raw string, kind Kind) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null()
	}
	switch kind {
	case KindInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	case KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f)
		}
	case KindDate:
		if d, err := ParseDate(s); err == nil {
			return Date(d)
		}
	case KindNull, KindText:
	}
	return Text(raw)
}

// WriteCSV writes the header and all rows.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.schema.Columns()); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, t.schema.Len())
	for _, r := range t.rows {
		for i, v := range r.values {
			record[i] = v.String()
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
