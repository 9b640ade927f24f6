package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"videoxt/internal/api"
	"videoxt/internal/client"
	"videoxt/internal/lrucache"
	"videoxt/internal/preflight"
)

type statusReport struct {
	Checks []preflight.Result `json:"checks"`
	Daemon *api.Status        `json:"daemon,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local health and daemon cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base, err := ctx.baseURL()
			if err != nil {
				return err
			}

			report := statusReport{Checks: preflight.RunAll(cmd.Context(), cfg, nil)}
			daemonCheck := preflight.CheckDaemon(cmd.Context(), base)
			report.Checks = append(report.Checks, daemonCheck)
			if daemonCheck.Passed {
				status, err := client.New(base, nil).Status(cmd.Context())
				if err != nil {
					return wrapClientError(err, base)
				}
				report.Daemon = &status
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Checks", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, check := range report.Checks {
				fmt.Fprintln(out, renderStatusLine(check.Name, checkKind(check), check.Detail, colorize))
			}
			if report.Daemon == nil {
				return nil
			}
			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			d := report.Daemon
			fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(d.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Uptime", statusInfo, d.Uptime, colorize))
			fmt.Fprintln(out, renderStatusLine("Media", statusInfo, d.MediaDir, colorize))
			pendingKind := statusOK
			if d.PendingKeys > 0 {
				pendingKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Pending keys", pendingKind, strconv.Itoa(d.PendingKeys), colorize))
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderCacheStats(d.Caches))
			return nil
		},
	}
}

func checkKind(r preflight.Result) statusKind {
	switch {
	case r.Passed:
		return statusOK
	case r.Required:
		return statusError
	default:
		return statusWarn
	}
}

func renderCacheStats(stats []lrucache.Stats) string {
	headers := []string{"Cache", "Size", "Hits", "Misses", "Hit rate", "Evictions", "Invalidations", "Failures"}
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Name,
			fmt.Sprintf("%d/%d", s.Size, s.Capacity),
			strconv.FormatUint(s.Hits, 10),
			strconv.FormatUint(s.Misses, 10),
			hitRate(s.Hits, s.Misses),
			strconv.FormatUint(s.Evictions, 10),
			strconv.FormatUint(s.Invalidations, 10),
			strconv.FormatUint(s.ComputeFailures, 10),
		})
	}
	aligns := []columnAlignment{alignLeft}
	for range headers[1:] {
		aligns = append(aligns, alignRight)
	}
	return renderTable(headers, rows, aligns)
}

func hitRate(hits, misses uint64) string {
	total := hits + misses
	if total == 0 {
		return "-"
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(hits)*100/float64(total)), ".0") + "%"
}
