// Package logging provides structured JSON logging for the orchestrator.
// A single Logger is constructed at startup and handed to each component;
// components emit explicit events at operation boundaries instead of
// relying on any shared global state.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Logger wraps log/slog with component scoping.
type Logger struct {
	logger *slog.Logger
}

// New creates a Logger writing JSON records to w. Level is one of
// DEBUG, INFO, WARN, ERROR (case-insensitive); unknown values mean INFO.
func New(w io.Writer, level string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return &Logger{logger: slog.New(slog.NewJSONHandler(w, opts))}
}

// Component returns a child logger tagged with a component name.
// Components hold their child and never reach back to a global.
func (l *Logger) Component(name string) *Logger {
	return &Logger{logger: l.logger.With("component", name)}
}

// With returns a child logger with persistent key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Startup emits the standard process startup event.
func (l *Logger) Startup(name, version string) {
	l.logger.Info("starting", "service", name, "version", version)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
