package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"videoxt/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
	// NoColor disables ANSI level colors even when stdout is a terminal.
	NoColor bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))

	paths := opts.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	errPaths := opts.ErrorOutputPaths
	if len(errPaths) == 0 {
		errPaths = []string{"stderr"}
	}
	out, err := openOutputs(append(append([]string{}, paths...), errPaths...))
	if err != nil {
		return nil, err
	}

	withSource := opts.Development || level.Level() <= slog.LevelDebug
	if format == "json" {
		return slog.New(newJSONHandler(out.writer, level, withSource)), nil
	}
	return slog.New(newConsoleHandler(out.writer, level, withSource, out.terminal && !opts.NoColor)), nil
}

// NewFromConfig creates a logger using application config defaults. Output goes
// to stdout and the daemon log file.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	opts := Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	opts.OutputPaths = []string{"stdout"}
	opts.ErrorOutputPaths = []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		opts.OutputPaths = append(opts.OutputPaths, cfg.LogPath())
	}
	return New(opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type outputs struct {
	writer io.Writer
	// terminal is true only when every destination is a tty.
	terminal bool
}

// openOutputs resolves "stdout", "stderr" and file paths into one writer,
// opening each distinct destination once.
func openOutputs(paths []string) (outputs, error) {
	seen := make(map[string]bool, len(paths))
	res := outputs{terminal: true}
	var writers []io.Writer
	for _, raw := range paths {
		p := strings.TrimSpace(raw)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true

		var f *os.File
		switch p {
		case "stdout":
			f = os.Stdout
		case "stderr":
			f = os.Stderr
		default:
			if dir := filepath.Dir(p); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return outputs{}, fmt.Errorf("ensure log directory %s: %w", dir, err)
				}
			}
			file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return outputs{}, fmt.Errorf("open log file %s: %w", p, err)
			}
			writers = append(writers, file)
			res.terminal = false
			continue
		}
		writers = append(writers, f)
		res.terminal = res.terminal && isTerminal(f)
	}

	switch len(writers) {
	case 0:
		return outputs{writer: os.Stdout, terminal: isTerminal(os.Stdout)}, nil
	case 1:
		res.writer = writers[0]
	default:
		res.writer = io.MultiWriter(writers...)
	}
	return res, nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newJSONHandler emits one object per line with short keys. Timestamps keep
// millisecond precision so reconcile and cache timings can be correlated.
func newJSONHandler(w io.Writer, level *slog.LevelVar, withSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: withSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().UTC().Format(timeLayout))
			case slog.LevelKey:
				return slog.String("level", strings.ToLower(a.Value.String()))
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
					return slog.String("source", shortSource(src))
				}
			}
			return a
		},
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func shortSource(src *slog.Source) string {
	return fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line)
}
