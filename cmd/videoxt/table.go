package main

import (
	"fmt"
	"strconv"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"videoxt/internal/table"
	"videoxt/internal/textutil"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := prettytable.NewWriter()
	tw.SetStyle(prettytable.StyleRounded)
	// Column names are data keys; keep their case.
	tw.Style().Format.Header = text.FormatDefault

	header := make(prettytable.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(prettytable.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]prettytable.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, prettytable.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderRecords lays out data rows under the given columns. Numeric cells
// are right aligned.
func renderRecords(columns []string, records []table.Record) string {
	rows := make([][]string, 0, len(records))
	numeric := make([]bool, len(columns))
	for i := range numeric {
		numeric[i] = true
	}
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			value, present := rec[col]
			row[i] = formatCell(value)
			if present && value != nil {
				if _, ok := value.(float64); !ok {
					numeric[i] = false
				}
			}
		}
		rows = append(rows, row)
	}
	aligns := make([]columnAlignment, len(columns))
	for i, n := range numeric {
		if n && len(records) > 0 {
			aligns[i] = alignRight
		}
	}
	return renderTable(columns, rows, aligns)
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return textutil.FormatTimestamp(v)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
