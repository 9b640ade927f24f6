package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// applyEnv overlays VIDEOXT_* environment variables on top of file values.
// Unset variables leave the file (or default) value untouched.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCache()
	c.normalizeReconcile()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.MediaDir) == "" {
		c.Paths.MediaDir = defaultMediaDir
	}
	if c.Paths.MediaDir, err = expandPath(strings.TrimSpace(c.Paths.MediaDir)); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(strings.TrimSpace(c.Paths.StagingDir)); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeCache() {
	if c.Cache.Handles == 0 {
		c.Cache.Handles = defaultHandleCacheSize
	}
	if c.Cache.Frames == 0 {
		c.Cache.Frames = defaultFrameCacheSize
	}
	if c.Cache.Series == 0 {
		c.Cache.Series = defaultSeriesCacheSize
	}
	if c.Cache.Annotations == 0 {
		c.Cache.Annotations = defaultAnnotationCacheSize
	}
	if c.Cache.FrameSizes == 0 {
		c.Cache.FrameSizes = defaultFrameSizeCacheSize
	}
}

func (c *Config) normalizeReconcile() {
	if c.Reconcile.StageLockRetryMillis == 0 {
		c.Reconcile.StageLockRetryMillis = defaultStageLockRetryMillis
	}
	if c.Reconcile.MaxParallel == 0 {
		c.Reconcile.MaxParallel = defaultReconcileMaxParallel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
