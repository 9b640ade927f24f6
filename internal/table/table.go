// Package table models timestamp-keyed tables shared by series data and
// annotations.
//
// A Table is treated as immutable once built: caches hand the same value to
// many readers, so operations return new tables instead of editing in place.
package table

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"videoxt/internal/services"
)

// TimestampColumn is the key column every record carries.
const TimestampColumn = "timestamp"

// Record is one row. Values are float64, string, bool, or nil.
type Record map[string]any

// Table is an ordered set of columns and rows.
type Table struct {
	columns []string
	records []Record
}

// New builds a table. The timestamp column is always first; columns named by
// records but missing from columns are appended in sorted order.
func New(columns []string, records []Record) *Table {
	cols := MergeColumns([]string{TimestampColumn}, columns)
	var extra []string
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		seen[c] = struct{}{}
	}
	for _, rec := range records {
		for key := range rec {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				extra = append(extra, key)
			}
		}
	}
	slices.Sort(extra)
	cols = append(cols, extra...)
	return &Table{columns: cols, records: slices.Clone(records)}
}

// Empty returns a table with only the timestamp column and no rows.
func Empty() *Table {
	return &Table{columns: []string{TimestampColumn}}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// Records returns the rows in order. The returned slice is a copy; the
// records themselves are shared and must not be modified.
func (t *Table) Records() []Record {
	return slices.Clone(t.records)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.records) }

// Timestamps returns each row's timestamp in row order. Rows without a
// usable timestamp are skipped.
func (t *Table) Timestamps() []float64 {
	out := make([]float64, 0, len(t.records))
	for _, rec := range t.records {
		if ts, ok := Timestamp(rec); ok {
			out = append(out, ts)
		}
	}
	return out
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.columns, name)
}

// Project returns a table holding the timestamp column plus the named
// columns. Naming a column the table lacks is an invalid input.
func (t *Table) Project(columns ...string) (*Table, error) {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return nil, services.Wrap(services.ErrInvalidInput, "table", "project", fmt.Sprintf("unknown column %q", c), nil)
		}
	}
	cols := MergeColumns([]string{TimestampColumn}, columns)
	records := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		row := make(Record, len(cols))
		for _, c := range cols {
			row[c] = rec[c]
		}
		records = append(records, row)
	}
	return &Table{columns: cols, records: records}, nil
}

// Column returns the values of one column in row order.
func (t *Table) Column(name string) ([]any, error) {
	if !t.HasColumn(name) {
		return nil, services.Wrap(services.ErrInvalidInput, "table", "column", fmt.Sprintf("unknown column %q", name), nil)
	}
	out := make([]any, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec[name])
	}
	return out, nil
}

// Exact returns the rows whose timestamp equals ts.
func (t *Table) Exact(ts float64) []Record {
	var out []Record
	for _, rec := range t.records {
		if v, ok := Timestamp(rec); ok && v == ts {
			out = append(out, rec)
		}
	}
	return out
}

// At returns the rows whose timestamp equals ts or, when there are none, the
// single row nearest to ts. An empty table yields nil.
func (t *Table) At(ts float64) []Record {
	if exact := t.Exact(ts); len(exact) > 0 {
		return exact
	}
	best := -1
	bestDist := math.Inf(1)
	for i, rec := range t.records {
		v, ok := Timestamp(rec)
		if !ok {
			continue
		}
		if d := math.Abs(v - ts); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil
	}
	return []Record{t.records[best]}
}

// MarshalJSON encodes the table as {"columns": [...], "records": [...]}.
func (t *Table) MarshalJSON() ([]byte, error) {
	records := t.records
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(struct {
		Columns []string `json:"columns"`
		Records []Record `json:"records"`
	}{t.columns, records})
}

// UnmarshalJSON accepts the MarshalJSON shape.
func (t *Table) UnmarshalJSON(data []byte) error {
	var payload struct {
		Columns []string `json:"columns"`
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*t = *New(payload.Columns, payload.Records)
	return nil
}

// Timestamp extracts a record's timestamp.
func Timestamp(rec Record) (float64, bool) {
	if rec == nil {
		return 0, false
	}
	return toFloat(rec[TimestampColumn])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Scalar returns v in the form a table cell holds it: nil, string, bool, or
// a finite float64. Integer and json.Number values are converted. Composite
// values and non-finite numbers report false, since a CSV cell cannot carry
// them back.
func Scalar(v any) (any, bool) {
	var f float64
	switch n := v.(type) {
	case nil, string, bool:
		return v, true
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, false
		}
		f = parsed
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

// MergeColumns returns base followed by the names in extra that base lacks,
// keeping first-seen order.
func MergeColumns(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, c := range list {
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
