package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"videoxt/internal/client"
	"videoxt/internal/logs"
)

const followWait = 10 * time.Second

type logFetcher func(context.Context, logs.Query) (logs.Chunk, error)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var local bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Long: `Show the daemon log.

The log is read through the daemon API. When the daemon is not running, or
with --local, the log file under log_dir is read directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			readFile := func(c context.Context, q logs.Query) (logs.Chunk, error) {
				return logs.Tail(c, cfg.LogPath(), q)
			}
			fetch := readFile
			if !local {
				cl, err := ctx.client()
				if err != nil {
					return err
				}
				fetch = func(c context.Context, q logs.Query) (logs.Chunk, error) {
					chunk, err := cl.Logs(c, q)
					if client.IsUnavailable(err) {
						fetch = readFile
						return readFile(c, q)
					}
					return chunk, err
				}
			}
			err = streamLogs(cmd.Context(), func(c context.Context, q logs.Query) (logs.Chunk, error) {
				return fetch(c, q)
			}, lines, follow, cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&local, "local", false, "Read the log file without contacting the daemon")
	return cmd
}

// streamLogs prints the last lines and, when following, keeps polling from
// the returned offset until ctx ends.
func streamLogs(ctx context.Context, fetch logFetcher, lines int, follow bool, out io.Writer) error {
	q := logs.Query{Offset: -1, Limit: max(lines, 0)}
	for {
		chunk, err := fetch(ctx, q)
		if err != nil {
			return fmt.Errorf("read logs: %w", err)
		}
		for _, line := range chunk.Lines {
			fmt.Fprintln(out, line)
		}
		if !follow {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q = logs.Query{Offset: chunk.Offset, Wait: followWait}
	}
}
