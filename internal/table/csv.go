package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"videoxt/internal/services"
)

// ReadCSV decodes a table with a header row. Cells that parse as finite
// numbers become float64, "true"/"false" become bool, empty and nan/inf cells
// become nil, and everything else stays a string. The header must include timestamp.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	hasTimestamp := false
	for _, h := range header {
		if h == TimestampColumn {
			hasTimestamp = true
		}
	}
	if !hasTimestamp {
		return nil, services.Wrap(services.ErrInvalidInput, "table", "read csv", "missing timestamp column", nil)
	}

	var records []Record
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec := make(Record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = parseCell(row[i])
			} else {
				rec[name] = nil
			}
		}
		if _, ok := Timestamp(rec); !ok {
			return nil, services.Wrap(services.ErrInvalidInput, "table", "read csv", fmt.Sprintf("line %d: invalid timestamp", line), nil)
		}
		records = append(records, rec)
	}
	return New(header, records), nil
}

// WriteCSV encodes the table with a header row in column order.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(t.columns))
	for _, rec := range t.records {
		for i, c := range t.columns {
			row[i] = formatCell(rec[c])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseCell(raw string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	switch value {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	return raw
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		if f, ok := toFloat(val); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(val)
	}
}
