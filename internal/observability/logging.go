// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID is the context key for the id tying one approval's log lines together.
const CorrelationID LogContextKey = "correlation_id"

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging     bool
	EnableProtocolLogging bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging:     true,
	EnableProtocolLogging: true,
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

func fieldAttrs(base []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		base = append(base, slog.Any(k, v))
	}
	return base
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	tableName string
	logger    *Logger
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(tableName string) *RepoLogger {
	return &RepoLogger{
		tableName: tableName,
		logger:    GlobalLogger,
	}
}

func (l *RepoLogger) log(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableRepoLogging {
		return
	}
	attrs := fieldAttrs([]any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	l.logger.InfoContext(ctx, "repository "+operation, attrs...)
}

// LogCreate logs a repository create operation.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]interface{}) {
	l.log(ctx, "create", fields)
}

// LogUpdate logs a repository update operation.
func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]interface{}) {
	l.log(ctx, "update", fields)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.ErrorContext(ctx, "repository error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
		slog.String("error", err.Error()),
	)
}

// ProtocolLogger logs the steps of one payout execution. It never logs
// credentials, codes, or verification tokens.
type ProtocolLogger struct {
	logger *Logger
}

// NewProtocolLogger returns a ProtocolLogger writing to GlobalLogger.
func NewProtocolLogger() *ProtocolLogger {
	return &ProtocolLogger{logger: GlobalLogger}
}

// LogStep logs a completed protocol step.
func (l *ProtocolLogger) LogStep(ctx context.Context, step string, fields map[string]interface{}) {
	if !Config.EnableProtocolLogging {
		return
	}
	attrs := fieldAttrs([]any{
		slog.String("step", step),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	l.logger.InfoContext(ctx, "payout step", attrs...)
}

// LogStepError logs a failed protocol step.
func (l *ProtocolLogger) LogStepError(ctx context.Context, step string, err error, fields map[string]interface{}) {
	if !Config.EnableProtocolLogging {
		return
	}
	attrs := fieldAttrs([]any{
		slog.String("step", step),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	l.logger.WarnContext(ctx, "payout step failed", attrs...)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := fieldAttrs([]any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := fieldAttrs([]any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := fieldAttrs([]any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}

// LogReconciliationRequired is the one log line an operator must act on: money
// may have moved without the request being marked approved.
func LogReconciliationRequired(ctx context.Context, requestID uint, userID, amount int64, err error) {
	GlobalLogger.ErrorContext(ctx, "payout requires manual reconciliation",
		slog.Uint64("request_id", uint64(requestID)),
		slog.Int64("user_id", userID),
		slog.Int64("amount", amount),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}
