package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "videoxt.toml")
	content := strings.Join([]string{
		"[paths]",
		`media_dir = "` + filepath.Join(base, "media") + `"`,
		`staging_dir = "` + filepath.Join(base, "staging") + `"`,
		`state_dir = "` + filepath.Join(base, "state") + `"`,
		`log_dir = "` + filepath.Join(base, "logs") + `"`,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s, got %s (exists=%v)", path, resolved, exists)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for positional argument")
	}
}
