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

const (
	unreviewedReportAge    = 24 * time.Hour
	unreviewedReportKeyTTL = 25 * time.Hour
)

// DeadLetterService is the operator surface over terminally failed messages.
type DeadLetterService struct {
	deadLetters repository.DeadLetterRepository
	events      EventRecorder
	publisher   WakePublisher
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

func NewDeadLetterService(
	deadLetters repository.DeadLetterRepository,
	events EventRecorder,
	publisher WakePublisher,
	maxAttempts int,
	logger *zap.Logger,
) (*DeadLetterService, error) {
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event recorder is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeadLetterService{
		deadLetters: deadLetters,
		events:      events,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *DeadLetterService) List(ctx context.Context, reviewed *bool, limit int) ([]domain.DeadLetterItem, error) {
	return s.deadLetters.List(ctx, repository.DeadLetterFilter{Reviewed: reviewed, Limit: limit})
}

func (s *DeadLetterService) Get(ctx context.Context, id string) (*domain.DeadLetterItem, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.deadLetters.GetByID(ctx, id)
}

// Retry enqueues a fresh copy of the dead letter with its attempt counter at
// zero and its original attempt budget. The dead letter itself is kept and
// marked reviewed.
func (s *DeadLetterService) Retry(ctx context.Context, id string, actor string) (*domain.QueueItem, error) {
	actor, err := requireActor(id, actor)
	if err != nil {
		return nil, err
	}

	dl, err := s.deadLetters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	item := dl.Requeue(s.maxAttempts)
	item.ID = uuid.NewString()
	item.NextRetryAt = &now
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := s.deadLetters.Requeue(ctx, dl.ID, item, actor, now); err != nil {
		return nil, fmt.Errorf("failed to requeue dead letter %s: %w", dl.ID, err)
	}

	s.record(ctx, domain.HealthEvent{
		Type:     domain.EventDeadLetterRetried,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("dead letter %s manually retried by %s", dl.ID, actor),
		Metadata: map[string]any{
			"deadLetterId":   dl.ID,
			"queueItemId":    item.ID,
			"originalItemId": dl.QueueItemID,
			"actor":          actor,
		},
	})

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, wakeFor(ctx, item)); err != nil {
			observability.ItemLogger(s.logger, ctx, item).Warn("failed to publish wake message for retried item", zap.Error(err))
		}
	}

	return item, nil
}

func (s *DeadLetterService) MarkReviewed(ctx context.Context, id string, actor string) error {
	actor, err := requireActor(id, actor)
	if err != nil {
		return err
	}

	if err := s.deadLetters.MarkReviewed(ctx, id, actor, s.now().UTC()); err != nil {
		return err
	}

	s.record(ctx, domain.HealthEvent{
		Type:     domain.EventDeadLetterReviewed,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("dead letter %s reviewed by %s", id, actor),
		Metadata: map[string]any{"deadLetterId": id, "actor": actor},
	})
	return nil
}

// Purge permanently deletes a dead letter. It is the only deletion path.
func (s *DeadLetterService) Purge(ctx context.Context, id string, actor string) error {
	actor, err := requireActor(id, actor)
	if err != nil {
		return err
	}

	dl, err := s.deadLetters.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deadLetters.Delete(ctx, id); err != nil {
		return err
	}

	s.record(ctx, domain.HealthEvent{
		Type:     domain.EventDeadLetterPurged,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("dead letter %s purged by %s", id, actor),
		Metadata: map[string]any{
			"deadLetterId":  id,
			"queueItemId":   dl.QueueItemID,
			"recipient":     dl.Recipient,
			"failureReason": dl.FailureReason,
			"actor":         actor,
		},
	})
	return nil
}

// ReportUnreviewed emits a warning, at most once per UTC day, when dead
// letters older than a day are still waiting for an operator. It returns the
// count found.
func (s *DeadLetterService) ReportUnreviewed(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-unreviewedReportAge)

	count, err := s.deadLetters.CountUnreviewedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count unreviewed dead letters: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	day := s.now().UTC().Format("2006-01-02")
	_, err = s.events.RecordOnce(ctx, "dead_letters_unreviewed:"+day, unreviewedReportKeyTTL, domain.HealthEvent{
		Type:     domain.EventDeadLettersUnreviewed,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%d dead letters unreviewed for more than 24 hours", count),
		Metadata: map[string]any{
			"count":  count,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		},
	})
	return count, err
}

func (s *DeadLetterService) record(ctx context.Context, event domain.HealthEvent) {
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Error("failed to record dead letter event",
			zap.String("eventType", event.Type.String()),
			zap.Error(err),
		)
	}
}

func validateID(id string) error {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("%w: invalid id %q", domain.ErrValidation, id)
	}
	return nil
}

func requireActor(id string, actor string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	return actor, nil
}
