package logging

import (
	"io"
	"log/slog"
	"os"
)

// Options selects where log records go. Interactive programs set
// Interactive so that, when a log file is configured, nothing is written to
// stderr underneath the terminal UI.
type Options struct {
	Level       string
	LogFile     string
	Interactive bool
	Component   string
}

// New creates a *slog.Logger writing JSON to stderr and/or to opts.LogFile.
// It also sets the logger as the slog default so package-level slog calls work.
// The returned cleanup func closes the log file if one was opened; callers must
// defer it.
func New(opts Options) (*slog.Logger, func(), error) {
	lvl := parseLevel(opts.Level)

	var writers []io.Writer
	cleanup := func() {}

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		cleanup = func() { _ = f.Close() }
	}
	if !opts.Interactive || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	w := io.MultiWriter(writers...)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	if opts.Component != "" {
		logger = logger.With("component", opts.Component)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
