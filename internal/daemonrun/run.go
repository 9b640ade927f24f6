package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"videoxt/internal/api"
	"videoxt/internal/config"
	"videoxt/internal/daemon"
	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/mediastore"
	"videoxt/internal/preflight"
	"videoxt/internal/reconcile"
	"videoxt/internal/staging"
	"videoxt/internal/subsets"
)

// staleTempAge is how old an abandoned temp file must be before startup
// cleanup removes it.
const staleTempAge = time.Hour

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides the configured level when set.
	LogLevel string
	// Ready, when set, is called with the listen address once the API serves.
	Ready func(addr string)
}

// Run starts the videoxt daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	subsetStore, err := subsets.Open(cfg.SubsetDBPath())
	if err != nil {
		logger.Error("open subset store", logging.Error(err))
		return err
	}
	defer subsetStore.Close()

	results := preflight.RunAll(signalCtx, cfg, subsetStore)
	preflight.Log(logging.NewComponentLogger(logger, "preflight"), results)
	if failed := preflight.Failed(results); len(failed) > 0 {
		return fmt.Errorf("preflight: %d required check(s) failed, first: %s: %s", len(failed), failed[0].Name, failed[0].Detail)
	}

	cleaned := staging.CleanStale(signalCtx, cfg.Paths.StagingDir, staleTempAge, logger)
	if len(cleaned.Removed) > 0 {
		logger.Info("removed stale staging temp files",
			logging.Int("removed", len(cleaned.Removed)),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}

	svc, err := buildService(cfg, subsetStore, logger)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, svc, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and that no other videoxtd uses this state_dir"),
			logging.String(logging.FieldImpact, "review API unavailable"),
		)
		return err
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if opts.Ready != nil {
		opts.Ready(d.Addr())
	}

	<-signalCtx.Done()
	logger.Info("videoxt daemon shutting down")
	return nil
}

// buildService wires the media store, caches, staging and reconciler.
func buildService(cfg *config.Config, subsetStore *subsets.Store, logger *slog.Logger) (*api.Service, error) {
	store := mediastore.NewFSStore(cfg.Paths.MediaDir)
	caches, err := mediacache.New(store, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("create caches: %w", err)
	}
	retry := time.Duration(cfg.Reconcile.StageLockRetryMillis) * time.Millisecond
	stage, err := staging.New(cfg.Paths.StagingDir, retry, logger)
	if err != nil {
		return nil, fmt.Errorf("open staging store: %w", err)
	}
	reconciler := reconcile.New(stage, caches, store, cfg.Reconcile.MaxParallel, logger)
	return api.NewService(api.Deps{
		Store:      store,
		Caches:     caches,
		Staging:    stage,
		Reconciler: reconciler,
		Subsets:    subsetStore,
		Logger:     logger,
		MediaDir:   cfg.Paths.MediaDir,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
