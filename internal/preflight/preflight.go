package preflight

import (
	"context"
	"log/slog"

	"videoxt/internal/config"
	"videoxt/internal/logging"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`
	Detail   string `json:"detail"`
}

// Pinger is satisfied by stores that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes the startup checks for the given config. db may be nil when
// the subset database has not been opened yet.
func RunAll(ctx context.Context, cfg *config.Config, db Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("Media directory", cfg.Paths.MediaDir, ReadOnly)),
		required(CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir, ReadWrite)),
		required(CheckDirectoryAccess("State directory", cfg.Paths.StateDir, ReadWrite)),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir, ReadWrite),
	}
	if db != nil {
		results = append(results, required(CheckDatabase(ctx, "Subset database", db)))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Required && !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Log writes one line per check.
func Log(logger *slog.Logger, results []Result) {
	if logger == nil {
		return
	}
	for _, r := range results {
		attrs := []logging.Attr{
			logging.String("check", r.Name),
			logging.Bool("passed", r.Passed),
			logging.Bool("required", r.Required),
			logging.String("detail", r.Detail),
		}
		if r.Passed {
			logger.Info("preflight check", logging.Args(attrs...)...)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			append(attrs,
				logging.String(logging.FieldErrorHint, "fix permissions or paths in the config file"),
			)...,
		)
	}
}

func required(r Result) Result {
	r.Required = true
	return r
}
