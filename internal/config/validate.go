package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.MediaDir == "" {
		return errors.New("paths.media_dir must be set")
	}
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.StagingDir == c.Paths.MediaDir {
		return errors.New("paths.staging_dir must differ from paths.media_dir")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateCache() error {
	return ensurePositiveMap(map[string]int{
		"cache.handles":     c.Cache.Handles,
		"cache.frames":      c.Cache.Frames,
		"cache.series":      c.Cache.Series,
		"cache.annotations": c.Cache.Annotations,
		"cache.frame_sizes": c.Cache.FrameSizes,
	})
}

func (c *Config) validateReconcile() error {
	return ensurePositiveMap(map[string]int{
		"reconcile.stage_lock_retry_ms": c.Reconcile.StageLockRetryMillis,
		"reconcile.max_parallel":        c.Reconcile.MaxParallel,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
