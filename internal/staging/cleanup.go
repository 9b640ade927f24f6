package staging

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoxt/internal/logging"
)

// CleanStaleResult contains the outcome of a stale file cleanup.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes temp files older than maxAge that interrupted atomic
// writes left beneath stagingDir. Batches and lock files are never removed:
// deleting a lock file another process has open would let two holders in.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}
	if _, err := os.Stat(stagingDir); err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		removeLogged(path, "stale temp file", &result, logger)
		return nil
	})
	if walkErr != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: walkErr})
	}
	return result
}

func removeLogged(path, what string, result *CleanStaleResult, logger *slog.Logger) {
	if err := os.Remove(path); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
		if logger != nil {
			logging.WarnWithContext(logger, "failed to remove "+what, "staging_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		}
		return
	}
	result.Removed = append(result.Removed, path)
	if logger != nil {
		logger.Info("removed "+what,
			logging.String("path", path),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
}
