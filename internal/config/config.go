package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	MediaDir   string `toml:"media_dir" env:"VIDEOXT_MEDIA_DIR"`
	StagingDir string `toml:"staging_dir" env:"VIDEOXT_STAGING_DIR"`
	StateDir   string `toml:"state_dir" env:"VIDEOXT_STATE_DIR"`
	LogDir     string `toml:"log_dir" env:"VIDEOXT_LOG_DIR"`
	APIBind    string `toml:"api_bind" env:"VIDEOXT_API_BIND"`
}

// Cache contains the capacity of every bounded cache. Capacities are fixed for
// the lifetime of the process.
type Cache struct {
	Handles     int `toml:"handles" env:"VIDEOXT_CACHE_HANDLES"`
	Frames      int `toml:"frames" env:"VIDEOXT_CACHE_FRAMES"`
	Series      int `toml:"series" env:"VIDEOXT_CACHE_SERIES"`
	Annotations int `toml:"annotations" env:"VIDEOXT_CACHE_ANNOTATIONS"`
	FrameSizes  int `toml:"frame_sizes" env:"VIDEOXT_CACHE_FRAME_SIZES"`
}

// Reconcile contains configuration for staged edit reconciliation.
type Reconcile struct {
	// StageLockRetryMillis is how often a blocked stage call re-polls the key lock.
	StageLockRetryMillis int `toml:"stage_lock_retry_ms" env:"VIDEOXT_STAGE_LOCK_RETRY_MS"`
	// MaxParallel bounds concurrent reconciliations when committing a whole subset.
	MaxParallel int `toml:"max_parallel" env:"VIDEOXT_RECONCILE_MAX_PARALLEL"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"VIDEOXT_LOG_FORMAT"`
	Level  string `toml:"level" env:"VIDEOXT_LOG_LEVEL"`
}

// Config encapsulates all configuration values for videoxt.
//
// Configuration sections by subsystem:
//   - Paths: media root, staging area, daemon state, logs, API bind address
//   - Cache: capacities of the handle/frame/series/annotation/frame-size caches
//   - Reconcile: staging lock polling and subset commit parallelism
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Cache     Cache     `toml:"cache"`
	Reconcile Reconcile `toml:"reconcile"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/videoxt/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("videoxt.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// MediaDir is never created: it belongs to the external media store.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SubsetDBPath returns the location of the subset database.
func (c *Config) SubsetDBPath() string {
	return filepath.Join(c.Paths.StateDir, "subsets.db")
}

// LockPath returns the location of the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "videoxtd.lock")
}

// PIDPath returns the file the running daemon records its pid in.
func (c *Config) PIDPath() string {
	return c.LockPath() + ".pid"
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "videoxtd.log")
}

// APIBaseURL returns the HTTP base URL clients use to reach the daemon.
func (c *Config) APIBaseURL() string {
	bind := c.Paths.APIBind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
