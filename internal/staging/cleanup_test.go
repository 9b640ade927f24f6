package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"videoxt/internal/logging"
)

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOnlyOldTempFiles(t *testing.T) {
	root := t.TempDir()
	keyDir := filepath.Join(root, "set1", "cam", "boxes")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatal(err)
	}

	write := func(name string, age time.Duration) string {
		path := filepath.Join(keyDir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		when := time.Now().Add(-age)
		if err := os.Chtimes(path, when, when); err != nil {
			t.Fatal(err)
		}
		return path
	}

	oldTemp := write(".1.json.abc.tmp", 2*time.Hour)
	freshTemp := write(".2.json.def.tmp", 0)
	oldBatch := write("1.json", 2*time.Hour)
	lockFile := write(lockFileName, 2*time.Hour)

	result := CleanStale(context.Background(), root, time.Hour, logging.NewNop())

	if len(result.Removed) != 1 || result.Removed[0] != oldTemp {
		t.Fatalf("removed = %v, want only %s", result.Removed, oldTemp)
	}
	for _, keep := range []string{freshTemp, oldBatch, lockFile} {
		if _, err := os.Stat(keep); err != nil {
			t.Errorf("%s should still exist: %v", filepath.Base(keep), err)
		}
	}
}
