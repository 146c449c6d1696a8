package repository

import (
	"context"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MetricsRepository interface {
	Record(ctx context.Context, provider domain.ProviderID, day time.Time, success bool, latency time.Duration) error
	ForDay(ctx context.Context, day time.Time) ([]domain.ProviderMetrics, error)
}

type GormMetricsRepo struct {
	db *gorm.DB
}

func NewGormMetricsRepo(db *gorm.DB) *GormMetricsRepo {
	return &GormMetricsRepo{db: db}
}

// Record upserts the provider's row for day, incrementing counters in place
// so concurrent dispatchers never lose an update.
func (r *GormMetricsRepo) Record(
	ctx context.Context,
	provider domain.ProviderID,
	day time.Time,
	success bool,
	latency time.Duration,
) error {
	model := ProviderMetricsModel{
		Provider:       provider.String(),
		Day:            domain.Day(day),
		TotalRequests:  1,
		TotalLatencyMs: latency.Milliseconds(),
	}
	if success {
		model.SuccessCount = 1
	} else {
		model.FailureCount = 1
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_requests":   gorm.Expr("provider_metrics.total_requests + EXCLUDED.total_requests"),
				"success_count":    gorm.Expr("provider_metrics.success_count + EXCLUDED.success_count"),
				"failure_count":    gorm.Expr("provider_metrics.failure_count + EXCLUDED.failure_count"),
				"total_latency_ms": gorm.Expr("provider_metrics.total_latency_ms + EXCLUDED.total_latency_ms"),
				"updated_at":       gorm.Expr("EXCLUDED.updated_at"),
			}),
		}).
		Create(&model).Error
}

func (r *GormMetricsRepo) ForDay(ctx context.Context, day time.Time) ([]domain.ProviderMetrics, error) {
	var models []ProviderMetricsModel
	err := r.db.WithContext(ctx).
		Where("day = ?", domain.Day(day)).
		Order("provider").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProviderMetrics, 0, len(models))
	for i := range models {
		out = append(out, metricsModelToDomain(&models[i]))
	}
	return out, nil
}
