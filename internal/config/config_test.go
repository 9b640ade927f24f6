package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"videoxt/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "videoxt", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.MediaDir != filepath.Join(tempHome, ".local", "share", "videoxt", "media") {
		t.Fatalf("unexpected media dir: %q", cfg.Paths.MediaDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:5000" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Cache.Frames != 100 || cfg.Cache.Handles != 20 {
		t.Fatalf("unexpected cache capacities: %+v", cfg.Cache)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.SubsetDBPath() != filepath.Join(cfg.Paths.StateDir, "subsets.db") {
		t.Fatalf("unexpected subset db path: %q", cfg.SubsetDBPath())
	}
}

func TestLoadFromFileAndEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "videoxt.toml")

	fileCfg := map[string]any{
		"paths": map[string]any{
			"media_dir": filepath.Join(dir, "media"),
			"api_bind":  "127.0.0.1:6000",
		},
		"cache": map[string]any{
			"frames": 7,
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(fileCfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VIDEOXT_CACHE_HANDLES", "3")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.MediaDir != filepath.Join(dir, "media") {
		t.Fatalf("unexpected media dir: %q", cfg.Paths.MediaDir)
	}
	if cfg.Cache.Frames != 7 {
		t.Fatalf("expected frames capacity from file, got %d", cfg.Cache.Frames)
	}
	if cfg.Cache.Handles != 3 {
		t.Fatalf("expected handles capacity from env, got %d", cfg.Cache.Handles)
	}
	if cfg.Cache.Series != 20 {
		t.Fatalf("expected default series capacity, got %d", cfg.Cache.Series)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
	if cfg.APIBaseURL() != "http://127.0.0.1:6000" {
		t.Fatalf("unexpected base url %q", cfg.APIBaseURL())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative cache", func(c *config.Config) { c.Cache.Frames = -1 }, "cache.frames"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad bind", func(c *config.Config) { c.Paths.APIBind = "nonsense" }, "paths.api_bind"},
		{"same dirs", func(c *config.Config) { c.Paths.StagingDir = c.Paths.MediaDir }, "paths.staging_dir"},
		{"zero parallel", func(c *config.Config) { c.Reconcile.MaxParallel = 0 }, "reconcile.max_parallel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Cache.Frames != 100 {
		t.Fatalf("unexpected frames capacity %d", cfg.Cache.Frames)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MediaDir = filepath.Join(base, "media")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if _, err := os.Stat(cfg.Paths.MediaDir); !os.IsNotExist(err) {
		t.Fatalf("media dir must not be created, stat err=%v", err)
	}
}
