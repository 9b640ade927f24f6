package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"videoxt/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the videoxt configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the sample videoxt.toml",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, err := os.Stat(target)
				switch {
				case err == nil:
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set paths.media_dir to the directory holding your datasets, then run `videoxt start`.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the file (default: the standard config location)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if target := strings.TrimSpace(flagValue); target != "" {
		expanded, err := config.ExpandPath(target)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return expanded, nil
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return path, nil
}

// configReport is the --json shape of `config validate`.
type configReport struct {
	Path     string         `json:"path"`
	Exists   bool           `json:"exists"`
	Config   *config.Config `json:"config"`
	Warnings []string       `json:"warnings,omitempty"`
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and print the effective settings",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			report := configReport{Path: resolved, Exists: exists, Config: cfg, Warnings: mediaWarnings(cfg.Paths.MediaDir)}
			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			source := resolved
			if !exists {
				source += " (not found, defaults in effect)"
			}
			fmt.Fprintf(out, "Config: %s\n", source)
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, configRows(cfg), nil))
			for _, w := range report.Warnings {
				fmt.Fprintf(out, "Warning: %s\n", w)
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func configRows(cfg *config.Config) [][]string {
	itoa := strconv.Itoa
	return [][]string{
		{"paths.media_dir", cfg.Paths.MediaDir},
		{"paths.staging_dir", cfg.Paths.StagingDir},
		{"paths.state_dir", cfg.Paths.StateDir},
		{"paths.log_dir", cfg.Paths.LogDir},
		{"api url", cfg.APIBaseURL()},
		{"subset database", cfg.SubsetDBPath()},
		{"cache.handles", itoa(cfg.Cache.Handles)},
		{"cache.frames", itoa(cfg.Cache.Frames)},
		{"cache.series", itoa(cfg.Cache.Series)},
		{"cache.annotations", itoa(cfg.Cache.Annotations)},
		{"cache.frame_sizes", itoa(cfg.Cache.FrameSizes)},
		{"reconcile.max_parallel", itoa(cfg.Reconcile.MaxParallel)},
		{"reconcile.stage_lock_retry_ms", itoa(cfg.Reconcile.StageLockRetryMillis)},
		{"logging", cfg.Logging.Level + " / " + cfg.Logging.Format},
	}
}

// mediaWarnings flags a media directory the daemon preflight would reject.
// They are not fatal here: the config may be written before the media tree.
func mediaWarnings(dir string) []string {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return []string{fmt.Sprintf("media directory %s does not exist", dir)}
	case err != nil:
		return []string{fmt.Sprintf("media directory %s is not readable: %v", dir, err)}
	case len(entries) == 0:
		return []string{fmt.Sprintf("media directory %s has no datasets yet", dir)}
	}
	return nil
}
