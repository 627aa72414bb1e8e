// Package rowstore is the adapter to the tabular store that holds the
// patient and visit tables. A table is a header row followed by data rows;
// rows are addressed by their 1-based position below the header.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable means the backend could not be reached or opened.
	ErrStoreUnavailable = errors.New("row store unavailable")
	ErrTableNotFound    = errors.New("table not found")
	ErrRowNotFound      = errors.New("row not found")
	// ErrColumnMismatch means a write was built against a header that no
	// longer matches the table.
	ErrColumnMismatch = errors.New("column mismatch")
)

// Store is the contract every backend implements.
type Store interface {
	// FetchAll returns every data row keyed by the table's current header.
	FetchAll(ctx context.Context, table string) ([]Record, error)
	// Header returns the current header row.
	Header(ctx context.Context, table string) ([]string, error)
	// AppendRow writes values positionally after the last row.
	AppendRow(ctx context.Context, table string, values []string) error
	// DeleteRow removes the data row at the 1-based position row.
	DeleteRow(ctx context.Context, table string, row int) error
	// EnsureTable creates the table with header when it does not exist. An
	// existing header is never rewritten.
	EnsureTable(ctx context.Context, table string, header []string) error
	// UpdateHeader replaces the header row of an existing table.
	UpdateHeader(ctx context.Context, table string, header []string) error
	Close() error
}

// Record is one data row.
type Record struct {
	Row     int      `json:"row"`
	Columns []string `json:"columns"`
	Values  []string `json:"values"`
}

// NewRecord pads or trims cells to the header length.
func NewRecord(row int, header, cells []string) Record {
	values := make([]string, len(header))
	copy(values, cells)
	return Record{Row: row, Columns: header, Values: values}
}

// Get returns the value of col, or "" when the column is absent.
func (r Record) Get(col string) string {
	if i := r.index(col); i >= 0 {
		return r.Values[i]
	}
	return ""
}

// Has reports whether the record's header carries col.
func (r Record) Has(col string) bool {
	return r.index(col) >= 0
}

// With returns a copy of r with col set to value, appending the column when
// the header lacks it.
func (r Record) With(col, value string) Record {
	out := Record{
		Row:     r.Row,
		Columns: append([]string(nil), r.Columns...),
		Values:  append([]string(nil), r.Values...),
	}
	if i := out.index(col); i >= 0 {
		out.Values[i] = value
		return out
	}
	out.Columns = append(out.Columns, col)
	out.Values = append(out.Values, value)
	return out
}

// Contains reports whether any value contains term, case-insensitively.
func (r Record) Contains(term string) bool {
	term = strings.ToLower(term)
	for _, v := range r.Values {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

func (r Record) index(col string) int {
	for i, c := range r.Columns {
		if c == col && i < len(r.Values) {
			return i
		}
	}
	return -1
}

// ColumnMismatchError carries both headers of a rejected write.
type ColumnMismatchError struct {
	Table    string
	Expected []string
	Actual   []string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("column mismatch on %s: form built for [%s], table has [%s]",
		e.Table, strings.Join(e.Expected, ", "), strings.Join(e.Actual, ", "))
}

func (e *ColumnMismatchError) Unwrap() error { return ErrColumnMismatch }

// SameHeader compares two headers column by column.
func SameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AppendChecked re-reads the table header and appends values only when it
// still equals columns, the header values were laid out against.
func AppendChecked(ctx context.Context, s Store, table string, columns, values []string) error {
	if len(columns) != len(values) {
		return fmt.Errorf("append to %s: %d values for %d columns", table, len(values), len(columns))
	}
	header, err := s.Header(ctx, table)
	if err != nil {
		return fmt.Errorf("read header of %s: %w", table, err)
	}
	if !SameHeader(header, columns) {
		return &ColumnMismatchError{Table: table, Expected: columns, Actual: header}
	}
	return s.AppendRow(ctx, table, values)
}

func validateHeader(header []string) error {
	if len(header) == 0 {
		return errors.New("header must have at least one column")
	}
	seen := make(map[string]bool, len(header))
	for _, c := range header {
		if strings.TrimSpace(c) == "" {
			return errors.New("header has an empty column label")
		}
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
