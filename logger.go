package hlkvds

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000),
		})),
	}
}

// WithShard adds a shard field to the logger.
func (l *Logger) WithShard(shard int) *Logger {
	return &Logger{
		Logger: l.Logger.With("shard", shard),
	}
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(id uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", id),
	}
}

// LogPut logs a put operation.
func (l *Logger) LogPut(ctx context.Context, key []byte, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "put failed",
			"key_len", len(key),
			"value_len", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "put completed",
			"key_len", len(key),
			"value_len", size,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, key []byte, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"key_len", len(key),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"key_len", len(key),
		)
	}
}

// LogWrite logs a batch write.
func (l *Logger) LogWrite(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch write failed",
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "batch write completed",
			"count", count,
		)
	}
}

// LogCompaction logs a compaction or migration pass.
func (l *Logger) LogCompaction(ctx context.Context, kind string, segments, moved int, err error) {
	if err != nil {
		l.ErrorContext(ctx, kind+" failed",
			"segments", segments,
			"moved", moved,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, kind+" completed",
			"segments", segments,
			"moved", moved,
		)
	}
}

// LogRecovery logs the state a store was opened with.
func (l *Logger) LogRecovery(ctx context.Context, path string, trx uint64, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "store opened",
			"path", path,
			"trx", trx,
			"segments", segments,
		)
	}
}
