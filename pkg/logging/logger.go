// Package logging provides the slog-backed logger shared by the credential
// store backends, the dispatcher and the CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides logging functionality for credential store operations
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// NewLogger creates a new text logger writing to stderr
func NewLogger(debug bool) *Logger {
	return NewWithWriter(os.Stderr, debug, false)
}

// NewWithWriter creates a logger writing to w. When json is true records are
// emitted as JSON lines instead of logfmt text.
func NewWithWriter(w io.Writer, debug, json bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{
		logger: slog.New(handler),
		debug:  debug,
	}
}

// FromConfig creates a logger from the level and format strings used in the
// configuration file ("debug", "info"; "text", "json").
func FromConfig(level, format string) *Logger {
	debug := strings.EqualFold(strings.TrimSpace(level), "debug")
	json := strings.EqualFold(strings.TrimSpace(format), "json")
	return NewWithWriter(os.Stderr, debug, json)
}

// With returns a logger that adds args to every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		debug:  l.debug,
	}
}

// IsDebug reports whether debug records are emitted
func (l *Logger) IsDebug() bool {
	return l.debug
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error
func (l *Logger) Error(err error) {
	l.logger.Error(err.Error())
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// MaybeError logs an error if it's not nil
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.logger.Error(err.Error())
	}
}

// DefaultLogger returns a default logger instance with debug=false
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// Discard returns a logger that drops every record
func Discard() *Logger {
	return NewWithWriter(io.Discard, false, false)
}

// OrDefault returns l, or the default logger when l is nil
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return DefaultLogger()
	}
	return l
}
