package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "notification-dispatcher"

type correlationIDKey struct{}

// NewLogger builds the process logger: JSON to stderr, ISO8601 timestamps
// under "timestamp", no stack traces.
func NewLogger(level string) (*zap.Logger, error) {
	cfg, err := loggerConfig(level)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func loggerConfig(level string) (zap.Config, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "" {
		name = "info"
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": serviceName}
	return cfg, nil
}

// SeverityLevel maps an event severity onto the log level it is written at.
func SeverityLevel(severity domain.Severity) zapcore.Level {
	switch severity {
	case domain.SeverityWarning:
		return zapcore.WarnLevel
	case domain.SeverityError, domain.SeverityCritical:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func ProviderField(id domain.ProviderID) zap.Field {
	return zap.String("provider", id.String())
}

func QueueItemField(id string) zap.Field {
	return zap.String("queueItemId", id)
}

// ItemLogger scopes logger to one queue item and the request or wake-up that
// produced it.
func ItemLogger(logger *zap.Logger, ctx context.Context, item *domain.QueueItem) *zap.Logger {
	logger = WithContextLogger(logger, ctx)
	if logger == nil || item == nil {
		return logger
	}
	return logger.With(
		QueueItemField(item.ID),
		zap.String("category", item.Category.String()),
		zap.Int("attempt", item.Attempts),
	)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok && id != ""
}

// WithContextLogger adds the correlation id carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String("correlationId", id))
	}
	return logger
}
