package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"videoxt/internal/api"
	"videoxt/internal/client"
	"videoxt/internal/table"
	"videoxt/internal/textutil"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	var recordsJSON string
	var recordsFile string

	cmd := &cobra.Command{
		Use:   "stage <dataset> <camera> <kind> <timestamp>",
		Short: "Stage edited annotation rows for one frame",
		Long: `Stage edited annotation rows for one frame.

The rows replace every stored row at the frame timestamp (and at each row's
own timestamp) when the key is reconciled. Passing no rows stages a deletion
of the frame's rows.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestampArg(args[3])
			if err != nil {
				return err
			}
			records, err := loadRecords(cmd, recordsJSON, recordsFile)
			if err != nil {
				return err
			}
			ref := api.AnnotationRef{Dataset: args[0], Camera: args[1], Kind: args[2]}
			return ctx.withClient(func(cl *client.Client) error {
				resp, err := cl.Stage(cmd.Context(), ref, ts, records)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Staged %d row(s) for %s at %s (%d batch(es) pending)\n",
					len(records), refLabel(resp.Key), textutil.FormatTimestamp(ts), resp.Pending)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&recordsJSON, "records", "", "Rows as a JSON array of objects")
	cmd.Flags().StringVarP(&recordsFile, "file", "f", "", "Read rows from a JSON file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("records", "file")
	return cmd
}

func newStagedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "staged <dataset> <camera> <kind>",
		Short: "Show batches staged for an annotation table",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := api.AnnotationRef{Dataset: args[0], Camera: args[1], Kind: args[2]}
			return ctx.withClient(func(cl *client.Client) error {
				batches, err := cl.Staged(cmd.Context(), ref)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, batches)
				}
				if len(batches) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Nothing staged for %s\n", refLabel(ref))
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					staged := ""
					if !b.StagedAt.IsZero() {
						staged = b.StagedAt.Local().Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{
						textutil.FormatTimestamp(b.Timestamp),
						strconv.Itoa(len(b.Records)),
						staged,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Timestamp", "Rows", "Staged"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List annotation tables with staged edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				pending, err := cl.Pending(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if pending == nil {
						pending = []api.PendingKey{}
					}
					return writeJSON(cmd, pending)
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No staged edits")
					return nil
				}
				rows := make([][]string, 0, len(pending))
				for _, p := range pending {
					rows = append(rows, []string{p.Key.Dataset, p.Key.Camera, p.Key.Kind, strconv.Itoa(p.Batches)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Dataset", "Camera", "Kind", "Batches"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <dataset> <camera> <kind>",
		Short: "Merge staged edits into the stored annotation table",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := api.AnnotationRef{Dataset: args[0], Camera: args[1], Kind: args[2]}
			return ctx.withClient(func(cl *client.Client) error {
				resp, err := cl.Reconcile(cmd.Context(), ref)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %s: kept %d, created %d\n", refLabel(resp.Key), resp.Kept, resp.Created)
				return nil
			})
		},
	}
}

// loadRecords reads staged rows from the --records flag or --file. Neither
// flag means an empty batch.
func loadRecords(cmd *cobra.Command, inline, file string) ([]table.Record, error) {
	var data []byte
	switch {
	case strings.TrimSpace(inline) != "":
		data = []byte(inline)
	case file == "-":
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read rows from stdin: %w", err)
		}
		data = raw
	case strings.TrimSpace(file) != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		data = raw
	default:
		return []table.Record{}, nil
	}
	var records []table.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse rows: expected a JSON array of objects: %w", err)
	}
	if records == nil {
		records = []table.Record{}
	}
	return records, nil
}

func refLabel(ref api.AnnotationRef) string {
	return ref.Dataset + "/" + ref.Camera + "/" + ref.Kind
}
