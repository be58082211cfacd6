// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
)

// Logger wraps slog.Logger so the process-wide instance can be swapped in tests.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is shared by the store, gateway and background workers.
var GlobalLogger = &Logger{Logger: slog.New(NewHandler(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")))}

// NewHandler returns a JSON handler in production and a text handler
// otherwise. level is a slog level name; unknown names mean info.
func NewHandler(env, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if env == "production" || env == "prod" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type correlationKey struct{}

// WithCorrelationID stores the request correlation ID on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func ExtractCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// fieldAttrs renders fields in key order so log lines are stable.
func fieldAttrs(ctx context.Context, fields map[string]any, attrs ...any) []any {
	if cid := ExtractCorrelationID(ctx); cid != "" {
		attrs = append(attrs, slog.String("correlation_id", cid))
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}

// RepoLogger logs writes and failures of one store table.
type RepoLogger struct {
	log *slog.Logger
}

func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{log: GlobalLogger.With(slog.String("table", table))}
}

// LogWrite records a committed state change at debug level.
func (l *RepoLogger) LogWrite(ctx context.Context, op string, fields map[string]any) {
	l.log.DebugContext(ctx, "store write", fieldAttrs(ctx, fields, slog.String("operation", op))...)
}

func (l *RepoLogger) LogError(ctx context.Context, err error, op string) {
	l.log.ErrorContext(ctx, "store error", fieldAttrs(ctx, nil, slog.String("operation", op), slog.Any("error", err))...)
}

// WSLogger logs the connection lifecycle of one gateway.
type WSLogger struct {
	log *slog.Logger
}

func NewWSLogger(gateway string) *WSLogger {
	return &WSLogger{log: GlobalLogger.With(slog.String("gateway", gateway))}
}

func (l *WSLogger) LogConnect(ctx context.Context, userID uint) {
	l.log.InfoContext(ctx, "client connected", slog.Uint64("user_id", uint64(userID)))
}

func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, reason string) {
	l.log.InfoContext(ctx, "client disconnected", slog.Uint64("user_id", uint64(userID)), slog.String("reason", reason))
}

// LogSubscription records a subscribe or unsubscribe of topic.
func (l *WSLogger) LogSubscription(ctx context.Context, userID uint, topic, action string) {
	l.log.DebugContext(ctx, "topic "+action, slog.Uint64("user_id", uint64(userID)), slog.String("topic", topic))
}

// LogError records a failed frame. topic is empty for connection-level errors.
func (l *WSLogger) LogError(ctx context.Context, userID uint, topic string, err error, stage string) {
	attrs := []any{slog.Uint64("user_id", uint64(userID)), slog.String("stage", stage), slog.Any("error", err)}
	if topic != "" {
		attrs = append(attrs, slog.String("topic", topic))
	}
	l.log.WarnContext(ctx, "client error", attrs...)
}

// LogAsyncOperationError logs a failure in work detached from the request.
func LogAsyncOperationError(ctx context.Context, op string, err error, fields map[string]any) {
	GlobalLogger.ErrorContext(ctx, "async operation failed",
		fieldAttrs(ctx, fields, slog.String("operation", op), slog.Any("error", err))...)
}

// LogDeliveryDropped logs a publish that failed after its write was persisted.
func LogDeliveryDropped(ctx context.Context, topic, eventName string, err error) {
	GlobalLogger.WarnContext(ctx, "event dropped after persist",
		fieldAttrs(ctx, nil, slog.String("topic", topic), slog.String("event", eventName), slog.Any("error", err))...)
}
