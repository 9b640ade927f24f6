package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"videoxt/internal/api"
	"videoxt/internal/client"
	"videoxt/internal/config"
	"videoxt/internal/fileutil"
	"videoxt/internal/table"
	"videoxt/internal/textutil"
)

func newDatasetsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List datasets and their cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				datasets, err := cl.Datasets(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, datasets)
				}
				names := make([]string, 0, len(datasets))
				for name := range datasets {
					names = append(names, name)
				}
				slices.Sort(names)
				rows := make([][]string, 0, len(names))
				for _, name := range names {
					rows = append(rows, []string{name, strings.Join(datasets[name], ", ")})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Dataset", "Cameras"}, rows, nil))
				return nil
			})
		},
	}
}

func newTimestampsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "timestamps <dataset> <camera>",
		Short: "List the frame timestamps of a camera",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				ts, err := cl.Timestamps(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, ts)
				}
				out := cmd.OutOrStdout()
				for _, v := range ts {
					fmt.Fprintln(out, textutil.FormatTimestamp(v))
				}
				return nil
			})
		},
	}
}

func newSeriesCommand(ctx *commandContext) *cobra.Command {
	var columns []string
	var at string
	var nearest bool
	var listColumns bool

	cmd := &cobra.Command{
		Use:   "series <dataset> <camera> [name]",
		Short: "List series of a camera or show one series",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				ds, cam := args[0], args[1]
				if len(args) == 2 {
					names, err := cl.SeriesOptions(cmd.Context(), ds, cam)
					if err != nil {
						return err
					}
					return printList(cmd, ctx, names)
				}
				name := args[2]
				switch {
				case listColumns:
					cols, err := cl.SeriesColumns(cmd.Context(), ds, cam, name)
					if err != nil {
						return err
					}
					return printList(cmd, ctx, cols)
				case at != "":
					ts, err := parseTimestampArg(at)
					if err != nil {
						return err
					}
					rows, err := cl.SeriesAt(cmd.Context(), ds, cam, name, ts, nearest)
					if err != nil {
						return err
					}
					return printRecords(cmd, ctx, rows)
				default:
					data, err := cl.SeriesData(cmd.Context(), ds, cam, name, columns...)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, data)
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderSeriesData(data))
					return nil
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to include (default: all)")
	cmd.Flags().StringVar(&at, "at", "", "Show only the rows at this timestamp")
	cmd.Flags().BoolVar(&nearest, "nearest", false, "With --at, fall back to the nearest row")
	cmd.Flags().BoolVar(&listColumns, "list-columns", false, "List the columns of the series")
	return cmd
}

func newAnnotationsCommand(ctx *commandContext) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "annotations <dataset> <camera> [kind]",
		Short: "List annotation kinds of a camera or show one annotation table",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				if len(args) == 2 {
					kinds, err := cl.AnnotationOptions(cmd.Context(), args[0], args[1])
					if err != nil {
						return err
					}
					return printList(cmd, ctx, kinds)
				}
				ref := api.AnnotationRef{Dataset: args[0], Camera: args[1], Kind: args[2]}
				if at != "" {
					ts, err := parseTimestampArg(at)
					if err != nil {
						return err
					}
					rows, err := cl.AnnotationAt(cmd.Context(), ref, ts)
					if err != nil {
						return err
					}
					return printRecords(cmd, ctx, rows)
				}
				tbl, err := cl.Annotations(cmd.Context(), ref)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, tbl)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRecords(tbl.Columns(), tbl.Records()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Show only the rows at exactly this timestamp")
	return cmd
}

func newFrameCommand(ctx *commandContext) *cobra.Command {
	var output string
	var sizeOnly bool

	cmd := &cobra.Command{
		Use:   "frame <dataset> <camera> [timestamp]",
		Short: "Save the frame nearest a timestamp as JPEG, or show frame size",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				ds, cam := args[0], args[1]
				if sizeOnly || len(args) == 2 {
					size, err := cl.FrameSize(cmd.Context(), ds, cam)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, size)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%dx%d\n", size.Width, size.Height)
					return nil
				}
				ts, err := parseTimestampArg(args[2])
				if err != nil {
					return err
				}
				frame, err := cl.Frame(cmd.Context(), ds, cam, ts)
				if err != nil {
					return err
				}
				target := strings.TrimSpace(output)
				if target == "" {
					target = fmt.Sprintf("%s_%s_%s.jpg", ds, textutil.EscapeSegment(cam), textutil.FormatTimestamp(frame.Timestamp))
				} else if target, err = config.ExpandPath(target); err != nil {
					return err
				}
				if err := fileutil.WriteFileAtomic(target, frame.JPEG, 0o644); err != nil {
					return fmt.Errorf("write frame: %w", err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"path": target, "timestamp": frame.Timestamp, "bytes": len(frame.JPEG)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote frame %s (%d bytes) to %s\n", textutil.FormatTimestamp(frame.Timestamp), len(frame.JPEG), target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination JPEG path")
	cmd.Flags().BoolVar(&sizeOnly, "size", false, "Print the frame dimensions only")
	return cmd
}

func parseTimestampArg(value string) (float64, error) {
	ts, err := textutil.ParseTimestamp(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return ts, nil
}

func printList(cmd *cobra.Command, ctx *commandContext, values []string) error {
	if ctx.jsonOutput() {
		if values == nil {
			values = []string{}
		}
		return writeJSON(cmd, values)
	}
	out := cmd.OutOrStdout()
	if len(values) == 0 {
		fmt.Fprintln(out, "(none)")
		return nil
	}
	for _, v := range values {
		fmt.Fprintln(out, v)
	}
	return nil
}

func printRecords(cmd *cobra.Command, ctx *commandContext, records []table.Record) error {
	if ctx.jsonOutput() {
		if records == nil {
			records = []table.Record{}
		}
		return writeJSON(cmd, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No rows")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderRecords(table.New(nil, records).Columns(), records))
	return nil
}

func renderSeriesData(data api.SeriesData) string {
	names := make([]string, 0, len(data.Columns))
	for name := range data.Columns {
		names = append(names, name)
	}
	slices.Sort(names)
	headers := append([]string{table.TimestampColumn}, names...)
	rows := make([][]string, len(data.X))
	for i, x := range data.X {
		row := []string{formatCell(x)}
		for _, name := range names {
			var v any
			if i < len(data.Columns[name]) {
				v = data.Columns[name][i]
			}
			row = append(row, formatCell(v))
		}
		rows[i] = row
	}
	aligns := make([]columnAlignment, len(headers))
	aligns[0] = alignRight
	return renderTable(headers, rows, aligns)
}
