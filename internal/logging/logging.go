// Package logging provides the process-wide slog logger for jtu.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	loggerMu      sync.RWMutex
	closer        io.Closer
)

func init() {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Config holds logging configuration.
type Config struct {
	Level    string          `yaml:"level" toml:"level"`                           // debug, info, warn, error
	Format   string          `yaml:"format" toml:"format"`                         // text, json
	Output   string          `yaml:"output" toml:"output"`                         // stdout, stderr, or file path
	Console  bool            `yaml:"console" toml:"console"`                       // also write to stderr when Output is a file
	Rotation *RotationConfig `yaml:"rotation,omitempty" toml:"rotation,omitempty"` // file rotation, ignored for stdout/stderr
}

// RotationConfig holds size based rotation settings.
type RotationConfig struct {
	MaxSize    string `yaml:"max_size" toml:"max_size"`       // e.g. "10MB"
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // number of numbered backups kept
}

// DefaultConfig logs text at info level to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// Init replaces the global logger. Calling it again closes the previous log
// file, if any.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := ParseLevel(cfg.Level)
	writer, c, err := openWriter(cfg)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	loggerMu.Lock()
	prev := closer
	defaultLogger = slog.New(handler)
	closer = c
	loggerMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// SetLevel re-initializes the logger with cfg but a different level. Used by
// the --log-level flag.
func SetLevel(cfg *Config, level string) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.Level = level
	return Init(&c)
}

// Suppress discards all log output.
func Suppress() {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	loggerMu.Lock()
	defaultLogger = discard
	loggerMu.Unlock()
}

// Close flushes and closes the log file opened by Init.
func Close() error {
	loggerMu.Lock()
	c := closer
	closer = nil
	loggerMu.Unlock()
	if c != nil {
		return c.Close()
	}
	return nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openWriter(cfg *Config) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	rw, err := newRotatingWriter(cfg.Output, cfg.Rotation)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	if cfg.Console {
		return io.MultiWriter(os.Stderr, rw), rw, nil
	}
	return rw, rw, nil
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// WithCorrelationID returns a logger tagged with a correlation id, used for
// poll cycle ids.
func WithCorrelationID(correlationID string) *slog.Logger {
	return Logger().With(slog.String("correlation_id", correlationID))
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }
