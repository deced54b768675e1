// Package logger is the structured logger of the ledger engine and its API.
// It sits on top of log/slog and adds typed field helpers for ledger records.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level is the minimum severity a logger writes.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
// Anything else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field is one structured key/value pair.
type Field = slog.Attr

func String(key, value string) Field             { return slog.String(key, value) }
func Int(key string, value int) Field            { return slog.Int(key, value) }
func Int64(key string, value int64) Field        { return slog.Int64(key, value) }
func Duration(key string, d time.Duration) Field { return slog.Duration(key, d) }
func Any(key string, value any) Field            { return slog.Any(key, value) }

// Err stores the error text under "error". A nil error logs as null.
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Options configures New.
type Options struct {
	// Output defaults to os.Stdout.
	Output io.Writer
	Level  Level
	// AddCaller adds a "source" group with the calling file and line.
	AddCaller bool
	// Text switches from JSON lines to logfmt-style text.
	Text bool
}

// Logger writes structured records. The zero value is not usable; use New,
// FromSlog or Default.
type Logger struct {
	s *slog.Logger
}

// New creates a logger writing to opts.Output.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddCaller}

	var h slog.Handler
	if opts.Text {
		h = slog.NewTextHandler(out, hopts)
	} else {
		h = slog.NewJSONHandler(out, hopts)
	}
	return &Logger{s: slog.New(h)}
}

// FromSlog shares the handler of an existing slog logger.
func FromSlog(s *slog.Logger) *Logger {
	if s == nil {
		s = slog.Default()
	}
	return &Logger{s: s}
}

// Default writes JSON at info level to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo})
}

// With returns a logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &Logger{s: l.s.With(args...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// log builds the record itself so the source points at the caller of
// Debug/Info/Warn/Error rather than at this package.
func (l *Logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	h := l.s.Handler()
	if !h.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(fields...)
	_ = h.Handle(ctx, r)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// RequestIDKey carries the correlation id of an API request or command.
const RequestIDKey = "request_id"

func StudentID(id string) Field     { return String("student_id", id) }
func ProductID(id string) Field     { return String("product_id", id) }
func GroupID(id string) Field       { return String("group_id", id) }
func ActivityID(id string) Field    { return String("activity_id", id) }
func TransactionID(id string) Field { return String("transaction_id", id) }
func Amount(turings int64) Field    { return Int64("amount", turings) }
func Balance(turings int64) Field   { return Int64("balance", turings) }
func Attempt(n int) Field           { return Int("attempt", n) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
