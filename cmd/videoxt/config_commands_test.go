package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"videoxt/internal/config"
	"videoxt/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	env := &cliTestEnv{cfg: cfg, configPath: configPath}

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "reconcile.max_parallel")
	requireContains(t, out, cfg.Paths.MediaDir)

	out, _, err = runCLI(t, env, "config", "validate", "--json")
	if err != nil {
		t.Fatalf("config validate --json: %v", err)
	}
	var report configReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v (%q)", err, out)
	}
	if !report.Exists || report.Path != configPath || report.Config.Cache.Frames != config.Default().Cache.Frames {
		t.Fatalf("report = %+v", report)
	}

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}
