// Package logging is the sentinel's structured logging layer. Every
// long-lived task (listener, dispatcher, handler, follow-ups) logs
// through the Logger interface here, whose context-taking methods stamp
// each record with the active trace and span ids so a log line can be
// joined back to the request that produced it.
package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Logger is the pipeline's logging contract: leveled, context-aware
// emission plus attribute scoping via With.
type Logger interface {
	DebugCtx(ctx context.Context, msg string, attrs ...any)
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
	With(attrs ...any) Logger
}

// New returns a Logger emitting through base, or through slog.Default()
// when base is nil.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return slogLogger{l: base}
}

// slogLogger routes every level through one emit path so span
// correlation is applied uniformly.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) emit(ctx context.Context, level slog.Level, msg string, attrs []any) {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	s.l.Log(ctx, level, msg, attrs...)
}

func (s slogLogger) DebugCtx(ctx context.Context, msg string, attrs ...any) {
	s.emit(ctx, slog.LevelDebug, msg, attrs)
}

func (s slogLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	s.emit(ctx, slog.LevelInfo, msg, attrs)
}

func (s slogLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	s.emit(ctx, slog.LevelWarn, msg, attrs)
}

func (s slogLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	s.emit(ctx, slog.LevelError, msg, attrs)
}

func (s slogLogger) With(attrs ...any) Logger {
	return slogLogger{l: s.l.With(attrs...)}
}
