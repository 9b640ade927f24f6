package testsupport

import (
	"path/filepath"
	"testing"

	"videoxt/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.MediaDir = filepath.Join(base, "media")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithCacheCapacities overrides every cache capacity.
func WithCacheCapacities(handles, frames, series, annotations, frameSizes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Handles = handles
		b.cfg.Cache.Frames = frames
		b.cfg.Cache.Series = series
		b.cfg.Cache.Annotations = annotations
		b.cfg.Cache.FrameSizes = frameSizes
	}
}

// WithMediaDir points the config at an existing media tree.
func WithMediaDir(dir string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.MediaDir = dir
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
