package logger

import (
	"io"
	"log/slog"
	"os"
)

var Logger *slog.Logger

// New builds a text logger writing to w. Debug records are kept only when debug is set.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// Init creates the process logger on stdout and makes it the slog default.
func Init(debug bool) *slog.Logger {
	if os.Getenv("DEBUG") == "true" {
		debug = true
	}

	Logger = New(os.Stdout, debug)
	slog.SetDefault(Logger)
	return Logger
}

// Or returns l, or the slog default when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
