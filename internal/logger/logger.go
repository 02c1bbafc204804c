// Package logger wraps slog.Logger with the field names the build, search and
// recall commands share.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with fuzzyhnsw-specific context.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewText creates a Logger that writes human-readable text to w.
func NewText(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON creates a Logger that writes JSON lines to w.
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Noop discards all output.
func Noop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// FromConfig builds a logger from the [log] section values.
func FromConfig(w io.Writer, level, format string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", "text":
		return NewText(w, lvl), nil
	case "json":
		return NewJSON(w, lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// WithRun tags every record with the run id.
func (l *Logger) WithRun(id string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", id)}
}

// WithIndex tags every record with the index location.
func (l *Logger) WithIndex(location string) *Logger {
	return &Logger{Logger: l.Logger.With("index", location)}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(ctx context.Context, records, skipped, dim int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"records", records,
			"dimension", dim,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index built",
		"records", records,
		"skipped", skipped,
		"dimension", dim,
	)
}

// LogSkippedRecord logs a CSV row that could not be encoded.
func (l *Logger) LogSkippedRecord(ctx context.Context, row int, hash string, err error) {
	l.WarnContext(ctx, "record skipped",
		"row", row,
		"hash", hash,
		"error", err,
	)
}

// LogSearchFailure logs one failed trial of a recall run.
func (l *Logger) LogSearchFailure(ctx context.Context, key, hash string, trial int, err error) {
	l.WarnContext(ctx, "hnsw_search exception",
		"key", key,
		"hash", hash,
		"trial", trial,
		"error", err,
	)
}

// LogRecall logs the outcome of one record.
func (l *Logger) LogRecall(ctx context.Context, key string, hits, trials, failures int, recall float64) {
	l.DebugContext(ctx, "record evaluated",
		"key", key,
		"hits", hits,
		"trials", trials,
		"failures", failures,
		"recall", recall,
	)
}

// LogSave logs an index save.
func (l *Logger) LogSave(ctx context.Context, location string, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index save failed",
			"location", location,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index saved",
		"location", location,
		"bytes", bytes,
	)
}

// LogLoad logs an index load.
func (l *Logger) LogLoad(ctx context.Context, location string, records int, timestamp int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index load failed",
			"location", location,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index loaded",
		"location", location,
		"records", records,
		"written_at", timestamp,
	)
}
