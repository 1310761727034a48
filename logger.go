package eventtable

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with table-specific helpers.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithTable adds the table ID to the logger.
func (l *Logger) WithTable(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", id),
	}
}

// LogAdd logs an add operation.
func (l *Logger) LogAdd(ctx context.Context, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"rows", rows,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add completed",
			"rows", rows,
		)
	}
}

// LogDroppedDuplicates logs rows that were not stored because their primary key exists.
func (l *Logger) LogDroppedDuplicates(ctx context.Context, partition string, dropped int) {
	l.WarnContext(ctx, "rows with duplicate primary key dropped",
		"partition", partition,
		"dropped", dropped,
	)
}

// LogMutation logs a delete, update or update-or-add operation.
func (l *Logger) LogMutation(ctx context.Context, op string, batch int, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"batch", batch,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"batch", batch,
		)
	}
}

// LogRead logs a find or contains operation.
func (l *Logger) LogRead(ctx context.Context, op string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"results", results,
		)
	}
}

// LogCompile logs the compilation of a condition or update set.
func (l *Logger) LogCompile(ctx context.Context, what, plan string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compile "+what+" failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "compiled "+what,
			"plan", plan,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, partitions int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot taken",
			"partitions", partitions,
		)
	}
}

// LogRestore logs a restore operation.
func (l *Logger) LogRestore(ctx context.Context, partitions int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"partitions", partitions,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"partitions", partitions,
		)
	}
}

// LogLifecycle logs connect, disconnect and destroy.
func (l *Logger) LogLifecycle(ctx context.Context, event string, err error) {
	if err != nil {
		l.ErrorContext(ctx, event+" failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, event)
	}
}
