// Package logging defines the structured logging contract shared by every
// subsystem in this repository, and a default implementation backed by
// log/slog. Every subsystem takes a Logger by constructor injection rather
// than reaching for a package-level global, so tests can substitute a
// silent or buffering logger.
package logging

import (
	"log/slog"
	"os"
)

// Logger is deliberately small and variadic-key-value shaped so it is
// satisfied by slog, zap, logrus shims, or a test double without an
// adapter layer.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// SlogLogger adapts *slog.Logger to the Logger interface.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlog builds a Logger around the given *slog.Logger.
func NewSlog(l *slog.Logger) *SlogLogger { return &SlogLogger{l: l} }

// New builds the default production Logger: JSON to stderr (text when
// format is "text") at the given level ("debug", "info", "warn", "error"; unrecognized values fall back
// to "info").
func New(level, format string) *SlogLogger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return NewSlog(slog.New(handler))
}

func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }

// With returns a Logger that always adds the given key-value pairs,
// mirroring slog.Logger.With.
func (s *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{l: s.l.With(args...)}
}
