package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"gorm.io/gorm"
)

// Outcome carries what a dispatch attempt learned about an item.
type Outcome struct {
	LastError          string
	AttemptedProviders []domain.ProviderID
	RejectedProviders  []domain.ProviderID
}

type QueueRepository interface {
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueItem, error)
	Complete(ctx context.Context, id string, deliveredBy domain.ProviderID, providerMessageID string, attempted []domain.ProviderID) error
	Reschedule(ctx context.Context, id string, nextRetryAt time.Time, outcome Outcome) error
	Release(ctx context.Context, id string, nextRetryAt time.Time, reason string) error
	MoveToDeadLetter(ctx context.Context, id string, dl *domain.DeadLetterItem, outcome Outcome) error
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error)
	Supersede(ctx context.Context, id string, note string) error
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error)
}

type GormQueueRepo struct {
	db *gorm.DB
}

func NewGormQueueRepo(db *gorm.DB) *GormQueueRepo {
	return &GormQueueRepo{db: db}
}

func (r *GormQueueRepo) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	model := queueItemModelFromDomain(item)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if item != nil {
		*item = *queueItemModelToDomain(model)
	}
	return nil
}

func (r *GormQueueRepo) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	var model QueueItemModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return queueItemModelToDomain(&model), nil
}

const claimBatchSQL = `
WITH cte AS (
  SELECT id
  FROM queue_items
  WHERE status = ?
    AND (next_retry_at IS NULL OR next_retry_at <= ?)
  ORDER BY created_at
  LIMIT ?
  FOR UPDATE SKIP LOCKED
)
UPDATE queue_items q
SET status = ?,
    attempts = q.attempts + 1,
    claimed_at = ?,
    updated_at = ?
FROM cte
WHERE q.id = cte.id
RETURNING q.*`

// ClaimBatch moves up to limit due items to processing and bumps their
// attempt counter in one statement. Rows locked by another claimer are
// skipped, so concurrent workers never receive the same item.
func (r *GormQueueRepo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []QueueItemModel
	err := r.db.WithContext(ctx).
		Raw(claimBatchSQL,
			domain.QueueStatusQueued, now, limit,
			domain.QueueStatusProcessing, now, now,
		).
		Scan(&models).Error
	if err != nil {
		return nil, err
	}

	slices.SortFunc(models, func(a, b QueueItemModel) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	items := make([]domain.QueueItem, 0, len(models))
	for i := range models {
		items = append(items, *queueItemModelToDomain(&models[i]))
	}
	return items, nil
}

func (r *GormQueueRepo) Complete(
	ctx context.Context,
	id string,
	deliveredBy domain.ProviderID,
	providerMessageID string,
	attempted []domain.ProviderID,
) error {
	updates := map[string]any{
		"status":              domain.QueueStatusCompleted,
		"delivered_by":        deliveredBy.String(),
		"attempted_providers": providerArray(attempted),
		"claimed_at":          nil,
		"next_retry_at":       nil,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	return r.updateProcessing(ctx, id, updates)
}

func (r *GormQueueRepo) Reschedule(ctx context.Context, id string, nextRetryAt time.Time, outcome Outcome) error {
	return r.updateProcessing(ctx, id, map[string]any{
		"status":              domain.QueueStatusQueued,
		"next_retry_at":       nextRetryAt,
		"claimed_at":          nil,
		"last_error":          outcome.LastError,
		"attempted_providers": providerArray(outcome.AttemptedProviders),
		"rejected_providers":  providerArray(outcome.RejectedProviders),
	})
}

// Release returns a claimed item to the queue without charging it an attempt.
// Used when no provider was reachable at all, which is a systemic condition
// rather than a failure of the item.
func (r *GormQueueRepo) Release(ctx context.Context, id string, nextRetryAt time.Time, reason string) error {
	return r.updateProcessing(ctx, id, map[string]any{
		"status":        domain.QueueStatusQueued,
		"attempts":      gorm.Expr("GREATEST(attempts - 1, 0)"),
		"next_retry_at": nextRetryAt,
		"claimed_at":    nil,
		"last_error":    reason,
	})
}

func (r *GormQueueRepo) MoveToDeadLetter(ctx context.Context, id string, dl *domain.DeadLetterItem, outcome Outcome) error {
	model := deadLetterModelFromDomain(dl)
	if model == nil {
		return errors.New("dead letter item is required")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		result := tx.Model(&QueueItemModel{}).
			Where("id = ? AND status = ?", id, domain.QueueStatusProcessing).
			Updates(map[string]any{
				"status":              domain.QueueStatusFailed,
				"last_error":          outcome.LastError,
				"attempted_providers": providerArray(outcome.AttemptedProviders),
				"rejected_providers":  providerArray(outcome.RejectedProviders),
				"claimed_at":          nil,
				"next_retry_at":       nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		*dl = *deadLetterModelToDomain(model)
		return nil
	})
}

// ReclaimStale resets items stuck in processing since before claimedBefore.
// The attempt spent by the crashed worker stays counted.
func (r *GormQueueRepo) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&QueueItemModel{}).
		Where("status = ? AND claimed_at < ?", domain.QueueStatusProcessing, claimedBefore).
		Updates(map[string]any{
			"status":        domain.QueueStatusQueued,
			"claimed_at":    nil,
			"next_retry_at": now,
			"last_error":    "claim abandoned by worker",
		})
	return result.RowsAffected, result.Error
}

func (r *GormQueueRepo) Supersede(ctx context.Context, id string, note string) error {
	result := r.db.WithContext(ctx).
		Model(&QueueItemModel{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusQueued).
		Updates(map[string]any{
			"status":        domain.QueueStatusCompleted,
			"note":          note,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *GormQueueRepo) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.QueueStatusCompleted, before).
		Delete(&QueueItemModel{})
	return result.RowsAffected, result.Error
}

type statusCount struct {
	Status domain.QueueStatus `gorm:"column:status"`
	Count  int64              `gorm:"column:count"`
}

func (r *GormQueueRepo) CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&QueueItemModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.QueueStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormQueueRepo) updateProcessing(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&QueueItemModel{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *GormQueueRepo) missingOrConflict(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&QueueItemModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}
