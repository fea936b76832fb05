// Package logging wraps log/slog with the console, JSON and syslog outputs
// tether and its detached watchdog write to.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level is an alias so callers need not import log/slog.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is a slog.Logger whose level can change after construction and
// that carries tether's scoping helpers.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config selects the handler and threshold for New.
type Config struct {
	Level     Level
	Output    io.Writer
	JSON      bool
	AddSource bool
}

// DefaultConfig is what the foreground CLI uses before flags are parsed:
// warnings and errors only, on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelWarn, Output: os.Stderr}
}

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource}

	var h slog.Handler = NewConsoleHandler(out, opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

// Discard drops every record.
func Discard() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, building one from
// DefaultConfig on first use.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Passing nil resets it.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Or returns l unless it is nil.
func Or(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Default()
}

// ParseLevel accepts debug, info, warn (or warning) and error. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel takes effect for this logger and everything derived from it.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

func (l *Logger) GetLevel() Level { return l.level.Level() }

func (l *Logger) derive(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent tags records with the subsystem that emitted them.
// The console handler prints it ahead of the message.
func (l *Logger) WithComponent(name string) *Logger { return l.derive("component", name) }

// WithTx tags records with a transaction ID.
func (l *Logger) WithTx(txID string) *Logger { return l.derive("tx", txID) }

// OpenFile opens path for appending, creating it and its directory
// owner-only. The detached watchdog has no terminal and logs here.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
