package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deduper claims a key for a window; the first claimer wins.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventLog is the append-only operator audit trail. Every event is persisted
// and mirrored to the process log at a level matching its severity.
type EventLog struct {
	events  repository.EventRepository
	deduper Deduper
	logger  *zap.Logger
	now     func() time.Time
}

func NewEventLog(events repository.EventRepository, deduper Deduper, logger *zap.Logger) (*EventLog, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if deduper == nil {
		return nil, fmt.Errorf("deduper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventLog{
		events:  events,
		deduper: deduper,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (l *EventLog) Record(ctx context.Context, event domain.HealthEvent) error {
	if strings.TrimSpace(event.Type.String()) == "" {
		return fmt.Errorf("%w: event type is required", domain.ErrValidation)
	}
	if event.Severity == "" {
		event.Severity = domain.SeverityInfo
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}

	fields := []zap.Field{
		zap.String("eventId", event.ID),
		zap.String("eventType", event.Type.String()),
		zap.String("severity", event.Severity.String()),
	}
	if event.Provider != nil {
		fields = append(fields, observability.ProviderField(*event.Provider))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	observability.WithContextLogger(l.logger, ctx).Log(observability.SeverityLevel(event.Severity), event.Message, fields...)

	if err := l.events.Create(ctx, &event); err != nil {
		return fmt.Errorf("failed to persist %s event: %w", event.Type, err)
	}
	return nil
}

// RecordOnce records event only if no other caller, in any process, has
// recorded under key within window. It reports whether the event was written.
func (l *EventLog) RecordOnce(ctx context.Context, key string, window time.Duration, event domain.HealthEvent) (bool, error) {
	claimed, err := l.deduper.Claim(ctx, key, window)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}
	if err := l.Record(ctx, event); err != nil {
		return false, err
	}
	return true, nil
}

func (l *EventLog) Recent(ctx context.Context, filter repository.EventFilter) ([]domain.HealthEvent, error) {
	return l.events.Recent(ctx, filter)
}

// Prune deletes events older than retention.
func (l *EventLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", domain.ErrValidation)
	}
	return l.events.DeleteBefore(ctx, l.now().Add(-retention))
}
