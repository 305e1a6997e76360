package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// Rows beyond this are rejected rather than loaded into memory.
const maxRows = 100_000

// Resolved is a fully materialized dataset ready for scope resolution.
type Resolved struct {
	Columns []domain.Column
	Rows    []domain.Row
}

func (r Resolved) RowCount() int {
	return len(r.Rows)
}

// Loader fetches a saved dataset document by object key.
type Loader interface {
	Load(ctx context.Context, objectKey string) (io.ReadCloser, string, error)
}

// Resolve materializes a dataset reference: inline rows pass through
// with column inference, saved documents are fetched and decoded.
func Resolve(ctx context.Context, ref domain.DatasetReference, loader Loader) (Resolved, error) {
	if ref.Inline() {
		return resolveInline(ref)
	}
	if loader == nil {
		return Resolved{}, errors.New("dataset loader is required for saved datasets")
	}

	key := strings.TrimSpace(ref.ObjectKey)
	reader, contentType, err := loader.Load(ctx, key)
	if err != nil {
		return Resolved{}, fmt.Errorf("load dataset %s: %w", key, err)
	}
	defer reader.Close()

	var resolved Resolved
	switch documentFormat(key, contentType) {
	case formatCSV:
		resolved, err = decodeCSV(reader, ref.Columns)
	case formatJSON:
		resolved, err = decodeJSON(reader, ref.Columns)
	default:
		return Resolved{}, fmt.Errorf("unsupported dataset format for %s", key)
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("decode dataset %s: %w", key, err)
	}
	if len(resolved.Rows) == 0 {
		return Resolved{}, fmt.Errorf("dataset %s has no rows", key)
	}
	return resolved, nil
}

func resolveInline(ref domain.DatasetReference) (Resolved, error) {
	if len(ref.Rows) == 0 {
		return Resolved{}, errors.New("inline dataset has no rows")
	}
	if len(ref.Rows) > maxRows {
		return Resolved{}, fmt.Errorf("dataset exceeds row cap (%d > %d)", len(ref.Rows), maxRows)
	}

	columns := ref.Columns
	if len(columns) == 0 {
		columns = inferColumns(ref.Rows)
	}
	if err := validateColumns(columns); err != nil {
		return Resolved{}, err
	}
	return Resolved{Columns: columns, Rows: ref.Rows}, nil
}

type format string

const (
	formatCSV     format = "csv"
	formatJSON    format = "json"
	formatUnknown format = ""
)

func documentFormat(objectKey string, contentType string) format {
	key := strings.ToLower(strings.TrimSpace(objectKey))
	switch {
	case strings.HasSuffix(key, ".csv"):
		return formatCSV
	case strings.HasSuffix(key, ".json"), strings.HasSuffix(key, ".jsonl"):
		return formatJSON
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.Contains(ct, "csv"):
		return formatCSV
	case strings.Contains(ct, "json"):
		return formatJSON
	}
	return formatUnknown
}

func inferColumns(rows []domain.Row) []domain.Column {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, row := range rows {
		for name := range row {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	columns := make([]domain.Column, 0, len(names))
	for _, name := range names {
		columns = append(columns, domain.Column{Name: name})
	}
	return columns
}

func validateColumns(columns []domain.Column) error {
	if len(columns) == 0 {
		return errors.New("dataset has no columns")
	}
	seen := make(map[string]struct{}, len(columns))
	for i, column := range columns {
		name := strings.TrimSpace(column.Name)
		if name == "" {
			return fmt.Errorf("columns[%d].name is required", i)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("columns[%d].name must be unique (duplicate %q)", i, name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
