// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package logging builds the slog loggers used by every engine component.
//
// Basic usage:
//
//	lg, err := logging.Open(logging.Config{Level: "debug", Format: "json"})
//	if err != nil {
//		return err
//	}
//	defer lg.Close()
//	eng, err := PowerSNMP.NewEngine(PowerSNMP.Config{Logger: lg.Logger})
//
// Components derive their own logger with Component, so every record carries
// component=usm, component=dispatcher and so on. The level can be changed at
// runtime through Logger.SetLevel, which the configuration hot reload uses.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	// FormatLogfmt is key=value output (slog.TextHandler).
	FormatLogfmt = "logfmt"
	// FormatJSON is one JSON object per record.
	FormatJSON = "json"
)

// Component names used across the engine.
const (
	ComponentEngine     = "engine"
	ComponentDispatcher = "dispatcher"
	ComponentTransport  = "transport"
	ComponentUSM        = "usm"
	ComponentWalk       = "walk"
	ComponentConfig     = "config"
	ComponentStatus     = "status"
	ComponentCapture    = "capture"
)

// Config holds the logger settings.
type Config struct {
	// Level: debug, info, warn or error. Default info.
	Level string `json:"level" yaml:"level"`
	// Format: logfmt or json. Default logfmt.
	Format string `json:"format" yaml:"format"`
	// Output: stdout, stderr or a file path. Default stdout.
	Output    string `json:"output" yaml:"output"`
	AddSource bool   `json:"addSource" yaml:"addSource"`
}

// DefaultConfig returns info level logfmt output on stdout.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatLogfmt, Output: "stdout"}
}

// Logger is a slog.Logger together with its level switch and output.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// Open creates a Logger. Empty Level and Format select the defaults.
func Open(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = FormatLogfmt
	}
	if !ValidateLevel(cfg.Level) {
		return nil, fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			cfg.Level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}
	if !ValidateFormat(cfg.Format) {
		return nil, fmt.Errorf("invalid log format: %q, must be one of: %s, %s",
			cfg.Format, FormatLogfmt, FormatJSON)
	}

	var writer io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := openLogFile(cfg.Output)
		if err != nil {
			return nil, err
		}
		writer, closer = f, f
	}
	return newLogger(writer, closer, cfg), nil
}

// New is Open for callers that only need the slog.Logger. The closer is
// non-nil when the output is a file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	lg, err := Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return lg.Logger, lg.closer, nil
}

// NewWriter builds a Logger on an arbitrary writer; tests use it with a
// bytes.Buffer.
func NewWriter(w io.Writer, cfg Config) *Logger {
	return newLogger(w, nil, cfg)
}

func newLogger(w io.Writer, closer io.Closer, cfg Config) *Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: levelVar, AddSource: cfg.AddSource}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler), level: levelVar, closer: closer}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level string) error {
	if !ValidateLevel(level) {
		return fmt.Errorf("invalid log level: %q", level)
	}
	l.level.Set(parseLevel(level))
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

// Close closes the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// Component returns a child logger tagging every record with the component
// name. A nil logger yields a discarding one.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger.With("component", name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ValidateLevel reports whether level is a valid log level string.
func ValidateLevel(level string) bool {
	switch strings.ToLower(level) {
	case LevelDebug, LevelInfo, LevelWarn, "warning", LevelError:
		return true
	}
	return false
}

// ValidateFormat reports whether format is a valid log format string.
func ValidateFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatLogfmt, FormatJSON:
		return true
	}
	return false
}

// openLogFile opens path for appending, creating parent directories. Symlinks
// and non-regular files are refused.
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if info, err := os.Lstat(clean); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("refusing to open symlink for log file: %s", clean)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("log path must be a regular file: %s", clean)
		}
	}
	f, err := os.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", clean, err)
	}
	return f, nil
}
