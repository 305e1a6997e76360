package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

func decodeCSV(r io.Reader, hints []domain.Column) (Resolved, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Resolved{}, fmt.Errorf("read header: %w", err)
	}

	columns := make([]domain.Column, 0, len(header))
	types := make(map[string]string, len(hints))
	for _, hint := range hints {
		types[strings.ToLower(strings.TrimSpace(hint.Name))] = strings.ToLower(strings.TrimSpace(hint.Type))
	}
	for _, field := range header {
		name := strings.TrimSpace(field)
		if name == "" {
			return Resolved{}, errors.New("empty column name in header")
		}
		columns = append(columns, domain.Column{
			Name: name,
			Type: types[strings.ToLower(name)],
		})
	}
	if err := validateColumns(columns); err != nil {
		return Resolved{}, err
	}

	rows := make([]domain.Row, 0)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Resolved{}, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		if len(rows) >= maxRows {
			return Resolved{}, fmt.Errorf("dataset exceeds row cap (%d)", maxRows)
		}

		row := make(domain.Row, len(columns))
		for i, column := range columns {
			if i >= len(record) {
				row[column.Name] = ""
				continue
			}
			row[column.Name] = coerce(record[i], column.Type)
		}
		rows = append(rows, row)
	}
	return Resolved{Columns: columns, Rows: rows}, nil
}

func decodeJSON(r io.Reader, hints []domain.Column) (Resolved, error) {
	dec := json.NewDecoder(io.LimitReader(r, 64<<20))
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Resolved{}, fmt.Errorf("decode array: %w", err)
	}
	if len(raw) > maxRows {
		return Resolved{}, fmt.Errorf("dataset exceeds row cap (%d > %d)", len(raw), maxRows)
	}

	rows := make([]domain.Row, 0, len(raw))
	for _, item := range raw {
		row := make(domain.Row, len(item))
		for k, v := range item {
			if number, ok := v.(json.Number); ok {
				row[k] = normalizeNumber(number)
				continue
			}
			row[k] = v
		}
		rows = append(rows, row)
	}

	columns := hints
	if len(columns) == 0 {
		columns = inferColumns(rows)
	}
	if err := validateColumns(columns); err != nil {
		return Resolved{}, err
	}
	return Resolved{Columns: columns, Rows: rows}, nil
}

// coerce applies an optional declared column type to a CSV string
// value; unparseable values stay strings.
func coerce(value string, columnType string) any {
	switch strings.ToLower(strings.TrimSpace(columnType)) {
	case "number", "float":
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	case "int", "integer":
		if i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return i
		}
	case "bool", "boolean":
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return value
}

func normalizeNumber(number json.Number) any {
	if i, err := number.Int64(); err == nil {
		return i
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}
