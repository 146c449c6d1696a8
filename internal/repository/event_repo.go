package repository

import (
	"context"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"gorm.io/gorm"
)

type EventFilter struct {
	Provider *domain.ProviderID
	Type     *domain.EventType
	Limit    int
}

// EventRepository is append-only: there is no update path.
type EventRepository interface {
	Create(ctx context.Context, event *domain.HealthEvent) error
	Recent(ctx context.Context, filter EventFilter) ([]domain.HealthEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Create(ctx context.Context, event *domain.HealthEvent) error {
	model := eventModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if event != nil {
		*event = eventModelToDomain(model)
	}
	return nil
}

func (r *GormEventRepo) Recent(ctx context.Context, filter EventFilter) ([]domain.HealthEvent, error) {
	query := r.db.WithContext(ctx).Model(&HealthEventModel{})

	if filter.Provider != nil {
		query = query.Where("provider = ?", filter.Provider.String())
	}
	if filter.Type != nil {
		query = query.Where("event_type = ?", *filter.Type)
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 500)

	var models []HealthEventModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]domain.HealthEvent, 0, len(models))
	for i := range models {
		events = append(events, eventModelToDomain(&models[i]))
	}
	return events, nil
}

func (r *GormEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&HealthEventModel{})
	return result.RowsAffected, result.Error
}
