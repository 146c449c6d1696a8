package repository

import (
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// QueueItemModel is the persistence model for the queue_items table.
type QueueItemModel struct {
	ID                 string             `gorm:"type:uuid;primaryKey"`
	Recipient          string             `gorm:"type:varchar(320);not null"`
	Category           domain.Category    `gorm:"type:varchar(32);not null"`
	TemplateID         string             `gorm:"type:varchar(128);not null"`
	Payload            datatypes.JSONMap  `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	Status             domain.QueueStatus `gorm:"type:varchar(16);not null"`
	Attempts           int                `gorm:"not null;default:0"`
	MaxAttempts        int                `gorm:"not null;default:3"`
	LastError          *string            `gorm:"type:text"`
	NextRetryAt        *time.Time         `gorm:"type:timestamptz"`
	ClaimedAt          *time.Time         `gorm:"type:timestamptz"`
	AttemptedProviders pq.StringArray     `gorm:"type:text[];not null;default:'{}'"`
	RejectedProviders  pq.StringArray     `gorm:"type:text[];not null;default:'{}'"`
	DeliveredBy        *string            `gorm:"type:varchar(64)"`
	ProviderMessageID  *string            `gorm:"type:varchar(255)"`
	Note               *string            `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (QueueItemModel) TableName() string {
	return "queue_items"
}

// DeadLetterModel is the persistence model for dead_letter_items.
type DeadLetterModel struct {
	ID                 string            `gorm:"type:uuid;primaryKey"`
	QueueItemID        string            `gorm:"type:uuid;not null"`
	Recipient          string            `gorm:"type:varchar(320);not null"`
	Category           domain.Category   `gorm:"type:varchar(32);not null"`
	TemplateID         string            `gorm:"type:varchar(128);not null"`
	Payload            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	Attempts           int               `gorm:"not null"`
	MaxAttempts        int               `gorm:"not null;default:3"`
	ProvidersAttempted pq.StringArray    `gorm:"type:text[];not null;default:'{}'"`
	FailureReason      string            `gorm:"type:text;not null"`
	MovedAt            time.Time         `gorm:"type:timestamptz;not null"`
	ReviewedAt         *time.Time        `gorm:"type:timestamptz"`
	ReviewedBy         *string           `gorm:"type:varchar(255)"`
}

func (DeadLetterModel) TableName() string {
	return "dead_letter_items"
}

// ProviderMetricsModel is the persistence model for provider_metrics, one row
// per provider per UTC day.
type ProviderMetricsModel struct {
	Provider       string    `gorm:"type:varchar(64);primaryKey"`
	Day            time.Time `gorm:"type:date;primaryKey"`
	TotalRequests  int64     `gorm:"not null;default:0"`
	SuccessCount   int64     `gorm:"not null;default:0"`
	FailureCount   int64     `gorm:"not null;default:0"`
	TotalLatencyMs int64     `gorm:"not null;default:0"`
	UpdatedAt      time.Time
}

func (ProviderMetricsModel) TableName() string {
	return "provider_metrics"
}

// HealthEventModel is the persistence model for the append-only health_events.
type HealthEventModel struct {
	ID        string            `gorm:"type:uuid;primaryKey"`
	Provider  *string           `gorm:"type:varchar(64)"`
	EventType domain.EventType  `gorm:"type:varchar(64);not null"`
	Severity  domain.Severity   `gorm:"type:varchar(16);not null"`
	Message   string            `gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null"`
}

func (HealthEventModel) TableName() string {
	return "health_events"
}

func queueItemModelFromDomain(q *domain.QueueItem) *QueueItemModel {
	if q == nil {
		return nil
	}

	return &QueueItemModel{
		ID:                 q.ID,
		Recipient:          q.Recipient,
		Category:           q.Category,
		TemplateID:         q.TemplateID,
		Payload:            jsonMap(q.Payload),
		Status:             q.Status,
		Attempts:           q.Attempts,
		MaxAttempts:        q.MaxAttempts,
		LastError:          q.LastError,
		NextRetryAt:        q.NextRetryAt,
		ClaimedAt:          q.ClaimedAt,
		AttemptedProviders: providerArray(q.AttemptedProviders),
		RejectedProviders:  providerArray(q.RejectedProviders),
		DeliveredBy:        providerPtrToString(q.DeliveredBy),
		ProviderMessageID:  q.ProviderMessageID,
		Note:               q.Note,
		CreatedAt:          q.CreatedAt,
		UpdatedAt:          q.UpdatedAt,
	}
}

func queueItemModelToDomain(m *QueueItemModel) *domain.QueueItem {
	if m == nil {
		return nil
	}

	return &domain.QueueItem{
		ID:                 m.ID,
		Recipient:          m.Recipient,
		Category:           m.Category,
		TemplateID:         m.TemplateID,
		Payload:            map[string]any(m.Payload),
		Status:             m.Status,
		Attempts:           m.Attempts,
		MaxAttempts:        m.MaxAttempts,
		LastError:          m.LastError,
		NextRetryAt:        m.NextRetryAt,
		ClaimedAt:          m.ClaimedAt,
		AttemptedProviders: providerIDs(m.AttemptedProviders),
		RejectedProviders:  providerIDs(m.RejectedProviders),
		DeliveredBy:        stringPtrToProvider(m.DeliveredBy),
		ProviderMessageID:  m.ProviderMessageID,
		Note:               m.Note,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func deadLetterModelFromDomain(d *domain.DeadLetterItem) *DeadLetterModel {
	if d == nil {
		return nil
	}

	return &DeadLetterModel{
		ID:                 d.ID,
		QueueItemID:        d.QueueItemID,
		Recipient:          d.Recipient,
		Category:           d.Category,
		TemplateID:         d.TemplateID,
		Payload:            jsonMap(d.Payload),
		Attempts:           d.Attempts,
		MaxAttempts:        d.MaxAttempts,
		ProvidersAttempted: providerArray(d.ProvidersAttempted),
		FailureReason:      d.FailureReason,
		MovedAt:            d.MovedAt,
		ReviewedAt:         d.ReviewedAt,
		ReviewedBy:         d.ReviewedBy,
	}
}

func deadLetterModelToDomain(m *DeadLetterModel) *domain.DeadLetterItem {
	if m == nil {
		return nil
	}

	return &domain.DeadLetterItem{
		ID:                 m.ID,
		QueueItemID:        m.QueueItemID,
		Recipient:          m.Recipient,
		Category:           m.Category,
		TemplateID:         m.TemplateID,
		Payload:            map[string]any(m.Payload),
		Attempts:           m.Attempts,
		MaxAttempts:        m.MaxAttempts,
		ProvidersAttempted: providerIDs(m.ProvidersAttempted),
		FailureReason:      m.FailureReason,
		MovedAt:            m.MovedAt,
		ReviewedAt:         m.ReviewedAt,
		ReviewedBy:         m.ReviewedBy,
	}
}

func metricsModelToDomain(m *ProviderMetricsModel) domain.ProviderMetrics {
	return domain.ProviderMetrics{
		Provider:       domain.ProviderID(m.Provider),
		Day:            domain.Day(m.Day),
		TotalRequests:  m.TotalRequests,
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		TotalLatencyMs: m.TotalLatencyMs,
	}
}

func eventModelFromDomain(e *domain.HealthEvent) *HealthEventModel {
	if e == nil {
		return nil
	}

	return &HealthEventModel{
		ID:        e.ID,
		Provider:  providerPtrToString(e.Provider),
		EventType: e.Type,
		Severity:  e.Severity,
		Message:   e.Message,
		Metadata:  jsonMap(e.Metadata),
		CreatedAt: e.CreatedAt,
	}
}

func eventModelToDomain(m *HealthEventModel) domain.HealthEvent {
	return domain.HealthEvent{
		ID:        m.ID,
		Provider:  stringPtrToProvider(m.Provider),
		Type:      m.EventType,
		Severity:  m.Severity,
		Message:   m.Message,
		Metadata:  map[string]any(m.Metadata),
		CreatedAt: m.CreatedAt,
	}
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}

func providerArray(ids []domain.ProviderID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func providerIDs(values pq.StringArray) []domain.ProviderID {
	if len(values) == 0 {
		return nil
	}
	out := make([]domain.ProviderID, 0, len(values))
	for _, v := range values {
		out = append(out, domain.ProviderID(v))
	}
	return out
}

func providerPtrToString(p *domain.ProviderID) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func stringPtrToProvider(s *string) *domain.ProviderID {
	if s == nil {
		return nil
	}
	p := domain.ProviderID(*s)
	return &p
}
