package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"videoxt/internal/logs"
	"videoxt/internal/testsupport"
)

func TestLogsLocalReadsFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := os.WriteFile(cfg.LogPath(), []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := &cliTestEnv{cfg: cfg, configPath: configPath}

	out, _, err := runCLI(t, env, "logs", "--local", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLogsFallsBackWhenDaemonDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := os.WriteFile(cfg.LogPath(), []byte("only\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := &cliTestEnv{cfg: cfg, configPath: configPath, addr: "127.0.0.1:1"}

	out, _, err := runCLI(t, env, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "only")
}

func TestStreamLogsFollowsOffsets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var queries []logs.Query
	fetch := func(_ context.Context, q logs.Query) (logs.Chunk, error) {
		queries = append(queries, q)
		switch len(queries) {
		case 1:
			return logs.Chunk{Lines: []string{"a"}, Offset: 2}, nil
		case 2:
			return logs.Chunk{Lines: []string{"b"}, Offset: 4}, nil
		default:
			cancel()
			return logs.Chunk{Offset: 4}, nil
		}
	}

	var out bytes.Buffer
	err := streamLogs(ctx, fetch, 1, true, &out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if out.String() != "a\nb\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if queries[0].Offset != -1 || queries[1].Offset != 2 || queries[2].Offset != 4 {
		t.Fatalf("unexpected offsets %+v", queries)
	}
	if queries[1].Wait != followWait {
		t.Fatalf("expected follow wait, got %v", queries[1].Wait)
	}
}
