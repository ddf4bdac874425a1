package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how the engine's structured logs land.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the log file path. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr also tees records to stderr (default: true), so a
	// terminal session sees the same records `vaultd serve` writes to
	// disk.
	WriteToStderr bool
}

// DefaultConfig returns vaultd's default: info level, rotating file
// under ~/.vaultd/logs/engine.log, tee'd to stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig returns configuration for debug mode.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds the engine's logger: a log/slog JSON handler over a
// size- and count-bounded rotating file writer, optionally tee'd to
// stderr. Every component receives the returned *slog.Logger by
// constructor injection from pkg/engine.Open — nothing in this module
// reaches for slog.Default(). The returned cleanup flushes and closes
// the log file; callers must run it before process exit.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	logger := slog.New(handler)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return logger, cleanup, nil
}

// SetupDefault wires Setup's debug-level logger as slog's package
// default; used only by tests and ad hoc tooling that have no Engine to
// inject a logger into.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel maps a Config.Level string onto slog.Level, defaulting to
// info for anything unrecognized rather than failing Setup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString is parseLevel exported for callers outside this
// package that need the same string-to-level mapping Setup uses.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
