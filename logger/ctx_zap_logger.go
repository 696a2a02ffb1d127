package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CtxZapLogger is a module-bound zap logger that enriches each entry with
// the trace id found in ctx.
//
//	log := manager.GetLogger("cache")
//	log.InfoCtx(ctx, "eviction batch", zap.Int("evicted", n))
type CtxZapLogger struct {
	base   *zap.Logger
	module string
	config *ManagerConfig
}

// New wraps an existing zap logger. Useful when the host application
// already owns its zap setup.
func New(base *zap.Logger, module string) *CtxZapLogger {
	if base == nil {
		base = zap.NewNop()
	}
	cfg := DefaultManagerConfig()
	cfg.EnableStacktrace = false
	return &CtxZapLogger{
		base:   base.With(zap.String("module", module)).WithOptions(zap.AddCallerSkip(1)),
		module: module,
		config: &cfg,
	}
}

// NewWithCore builds a logger directly on a zap core.
func NewWithCore(core zapcore.Core, module string) *CtxZapLogger {
	return New(zap.New(core), module)
}

// NewNop returns a logger that discards everything.
func NewNop() *CtxZapLogger {
	return &CtxZapLogger{base: zap.NewNop(), module: "nop"}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *CtxZapLogger) *CtxZapLogger {
	if l == nil {
		return NewNop()
	}
	return l
}

// Module returns the module this logger is bound to.
func (l *CtxZapLogger) Module() string {
	return l.module
}

func (l *CtxZapLogger) InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Info(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Info(msg string, fields ...zap.Field) {
	l.InfoCtx(context.Background(), msg, fields...)
}

// ErrorCtx logs at error level and, when enabled, attaches a stack of
// bounded depth.
func (l *CtxZapLogger) ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	enriched := l.enrichFields(ctx, fields)
	if l.config != nil && l.config.EnableStacktrace {
		depth := l.config.StacktraceDepth
		if depth <= 0 {
			depth = 10
		}
		// skip runtime.Callers, CaptureStacktrace and ErrorCtx
		if stack := CaptureStacktrace(3, depth); stack != "" {
			enriched = append(enriched, zap.String("stack", stack))
		}
	}
	l.base.Error(msg, enriched...)
}

func (l *CtxZapLogger) Error(msg string, fields ...zap.Field) {
	l.ErrorCtx(context.Background(), msg, fields...)
}

func (l *CtxZapLogger) DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Debug(msg string, fields ...zap.Field) {
	l.DebugCtx(context.Background(), msg, fields...)
}

func (l *CtxZapLogger) WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Warn(msg string, fields ...zap.Field) {
	l.WarnCtx(context.Background(), msg, fields...)
}

// With returns a child logger carrying fields on every entry.
func (l *CtxZapLogger) With(fields ...zap.Field) *CtxZapLogger {
	return &CtxZapLogger{
		base:   l.base.With(fields...),
		module: l.module,
		config: l.config,
	}
}

// GetZapLogger exposes the underlying zap logger for third-party integrations.
func (l *CtxZapLogger) GetZapLogger() *zap.Logger {
	return l.base
}

func (l *CtxZapLogger) enrichFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if l.config == nil {
		return fields
	}
	enriched := make([]zap.Field, 0, len(fields)+2)
	if l.config.AppName != "" {
		enriched = append(enriched, zap.String("app_name", l.config.AppName))
	}
	if l.config.EnableTraceID && ctx != nil {
		if traceID := extractTraceIDFromContext(ctx, l.config); traceID != "" {
			name := l.config.TraceIDFieldName
			if name == "" {
				name = "trace_id"
			}
			enriched = append(enriched, zap.String(name, traceID))
		}
	}
	return append(enriched, fields...)
}

type ctxKey string

// TraceIDKey is the context key read when no OTel span is active.
const TraceIDKey ctxKey = "trace_id"

// WithTraceID stores a trace id in ctx for loggers to pick up.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// extractTraceIDFromContext prefers the OTel span context over ctx values.
func extractTraceIDFromContext(ctx context.Context, cfg *ManagerConfig) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	if cfg != nil && cfg.TraceIDKey != "" {
		if v, ok := ctx.Value(ctxKey(cfg.TraceIDKey)).(string); ok {
			return v
		}
	}
	return ""
}
