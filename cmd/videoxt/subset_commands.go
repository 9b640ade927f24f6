package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"videoxt/internal/api"
	"videoxt/internal/client"
	"videoxt/internal/subsets"
)

func newSubsetCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subset",
		Short: "Manage named review subsets",
	}
	cmd.AddCommand(
		newSubsetListCommand(ctx),
		newSubsetShowCommand(ctx),
		newSubsetSaveCommand(ctx),
		newSubsetDeleteCommand(ctx),
		newSubsetReconcileCommand(ctx),
	)
	return cmd
}

func newSubsetListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored subsets",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				list, err := cl.Subsets(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if list == nil {
						list = []api.SubsetSummary{}
					}
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No subsets")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, s := range list {
					rows = append(rows, []string{s.Name, strconv.Itoa(s.Entries), s.UpdatedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Entries", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newSubsetShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the entries of a subset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				entries, err := cl.Subset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.SubsetResponse{Name: args[0], Entries: entries})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderEntries(entries))
				return nil
			})
		},
	}
}

func newSubsetSaveCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "save <name> [dataset/camera/kind...]",
		Short: "Create or replace a subset",
		Long: `Create or replace a subset.

Entries are given as dataset/camera/kind arguments, where the camera may
contain slashes, or as a JSON array in --file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := parseEntries(args[1:])
			if err != nil {
				return err
			}
			if strings.TrimSpace(file) != "" {
				fromFile, err := readEntriesFile(file)
				if err != nil {
					return err
				}
				entries = append(entries, fromFile...)
			}
			if len(entries) == 0 {
				return fmt.Errorf("subset %q needs at least one entry", args[0])
			}
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.SaveSubset(cmd.Context(), args[0], entries); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.SubsetResponse{Name: args[0], Entries: entries})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved subset %s with %d entr%s\n", args[0], len(entries), plural(len(entries), "y", "ies"))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read entries from a JSON file")
	return cmd
}

func newSubsetDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a subset",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.DeleteSubset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted subset %s\n", args[0])
				return nil
			})
		},
	}
}

func newSubsetReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <name>",
		Short: "Reconcile every annotation table in a subset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				outcomes, err := cl.ReconcileSubset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, outcomes)
				}
				rows := make([][]string, 0, len(outcomes))
				failures := 0
				for _, o := range outcomes {
					result := "ok"
					switch {
					case o.Error != "":
						result = o.Error
						failures++
					case o.Skipped:
						result = "nothing staged"
					}
					rows = append(rows, []string{refLabel(o.Key), strconv.Itoa(o.Kept), strconv.Itoa(o.Created), result})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Key", "Kept", "Created", "Result"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				if failures > 0 {
					return fmt.Errorf("%d of %d key(s) failed to reconcile", failures, len(outcomes))
				}
				return nil
			})
		},
	}
}

// parseEntries splits dataset/camera/kind arguments. The dataset is the first
// segment and the kind the last; everything between is the camera.
func parseEntries(args []string) ([]subsets.Entry, error) {
	entries := make([]subsets.Entry, 0, len(args))
	for _, arg := range args {
		first := strings.Index(arg, "/")
		last := strings.LastIndex(arg, "/")
		if first <= 0 || last <= first+1 || last == len(arg)-1 {
			return nil, fmt.Errorf("invalid entry %q: expected dataset/camera/kind", arg)
		}
		entries = append(entries, subsets.Entry{
			Dataset: arg[:first],
			Camera:  arg[first+1 : last],
			Kind:    arg[last+1:],
		})
	}
	return entries, nil
}

func readEntriesFile(path string) ([]subsets.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	var entries []subsets.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse entries %s: %w", path, err)
	}
	return entries, nil
}

func renderEntries(entries []subsets.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Dataset, e.Camera, e.Kind})
	}
	return renderTable([]string{"Dataset", "Camera", "Kind"}, rows, nil)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
