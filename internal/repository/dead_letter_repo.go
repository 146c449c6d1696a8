package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"gorm.io/gorm"
)

type DeadLetterFilter struct {
	Reviewed *bool
	Limit    int
}

type DeadLetterRepository interface {
	List(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetterItem, error)
	GetByID(ctx context.Context, id string) (*domain.DeadLetterItem, error)
	Requeue(ctx context.Context, id string, item *domain.QueueItem, actor string, at time.Time) error
	MarkReviewed(ctx context.Context, id string, actor string, at time.Time) error
	Delete(ctx context.Context, id string) error
	CountUnreviewedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormDeadLetterRepo struct {
	db *gorm.DB
}

func NewGormDeadLetterRepo(db *gorm.DB) *GormDeadLetterRepo {
	return &GormDeadLetterRepo{db: db}
}

func (r *GormDeadLetterRepo) List(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetterItem, error) {
	query := r.db.WithContext(ctx).Model(&DeadLetterModel{})

	if filter.Reviewed != nil {
		if *filter.Reviewed {
			query = query.Where("reviewed_at IS NOT NULL")
		} else {
			query = query.Where("reviewed_at IS NULL")
		}
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 500)

	var models []DeadLetterModel
	if err := query.Order("moved_at ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]domain.DeadLetterItem, 0, len(models))
	for i := range models {
		items = append(items, *deadLetterModelToDomain(&models[i]))
	}
	return items, nil
}

func (r *GormDeadLetterRepo) GetByID(ctx context.Context, id string) (*domain.DeadLetterItem, error) {
	var model DeadLetterModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deadLetterModelToDomain(&model), nil
}

// Requeue inserts the fresh queue item and stamps the dead letter as reviewed
// in one transaction, so a retried item never shows up as unreviewed.
func (r *GormDeadLetterRepo) Requeue(ctx context.Context, id string, item *domain.QueueItem, actor string, at time.Time) error {
	model := queueItemModelFromDomain(item)
	if model == nil {
		return errors.New("queue item is required")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DeadLetterModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}

		if err := tx.Create(model).Error; err != nil {
			return err
		}

		if err := tx.Model(&DeadLetterModel{}).
			Where("id = ? AND reviewed_at IS NULL", id).
			Updates(map[string]any{
				"reviewed_at": at,
				"reviewed_by": actor,
			}).Error; err != nil {
			return err
		}

		*item = *queueItemModelToDomain(model)
		return nil
	})
}

func (r *GormDeadLetterRepo) MarkReviewed(ctx context.Context, id string, actor string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeadLetterModel{}).
		Where("id = ? AND reviewed_at IS NULL", id).
		Updates(map[string]any{
			"reviewed_at": at,
			"reviewed_by": actor,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *GormDeadLetterRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&DeadLetterModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeadLetterRepo) CountUnreviewedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&DeadLetterModel{}).
		Where("reviewed_at IS NULL AND moved_at < ?", cutoff).
		Count(&count).Error
	return count, err
}
