// Package logger wires structured logging for the coordinator: slog with a
// tint console handler for local development, plain JSON for production, and
// a handful of context-fluent helpers the coordinator actor and dispatcher
// use to keep run_id/token_id/node_id on every line without threading them
// through every call site by hand.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger embeds *slog.Logger so callers can use the full slog API alongside
// the With* helpers below.
type Logger struct {
	*slog.Logger
}

// Config controls log level and output format.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // console|json
}

// New builds a Logger per cfg. The console format uses tint for colorized,
// human-scannable output; json is for ingestion by a log pipeline.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithRun returns a Logger with run_id attached to every record, the most
// common scoping in the coordinator since each actor goroutine owns exactly
// one run.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.With("run_id", runID)}
}

// WithToken attaches token_id and node_id, used by the dispatcher and
// planner when logging per-token decisions.
func (l *Logger) WithToken(tokenID, nodeID string) *Logger {
	return &Logger{Logger: l.With("token_id", tokenID, "node_id", nodeID)}
}

// WithFields attaches an arbitrary set of key/value pairs.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
