package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueueStatus represents the lifecycle state of a queued message.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCompleted  QueueStatus = "completed"
)

func (s QueueStatus) String() string { return string(s) }

func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusQueued, QueueStatusProcessing, QueueStatusFailed, QueueStatusCompleted:
		return true
	}
	return false
}

func ParseQueueStatus(s string) (QueueStatus, error) {
	st := QueueStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Category is the kind of notification being delivered.
type Category string

const (
	CategoryChatAlert        Category = "chat_alert"
	CategoryListingMatch     Category = "listing_match"
	CategoryModerationReport Category = "moderation_report"
	CategoryCampaign         Category = "campaign"
	CategorySystem           Category = "system"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryChatAlert, CategoryListingMatch, CategoryModerationReport, CategoryCampaign, CategorySystem:
		return true
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return c, nil
}

const (
	DefaultMaxAttempts = 3
	SupersededNote     = "superseded"
)

// QueueItem is a message awaiting delivery.
type QueueItem struct {
	ID                 string
	Recipient          string
	Category           Category
	TemplateID         string
	Payload            map[string]any
	Status             QueueStatus
	Attempts           int
	MaxAttempts        int
	LastError          *string
	NextRetryAt        *time.Time
	ClaimedAt          *time.Time
	AttemptedProviders []ProviderID
	RejectedProviders  []ProviderID
	DeliveredBy        *ProviderID
	ProviderMessageID  *string
	Note               *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (q *QueueItem) Validate() error {
	if strings.TrimSpace(q.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !q.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, q.Category)
	}
	if strings.TrimSpace(q.TemplateID) == "" {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if q.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be >= 0", ErrValidation)
	}
	return nil
}

// Exhausted reports whether the item has used its whole attempt budget.
func (q *QueueItem) Exhausted() bool {
	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return q.Attempts >= maxAttempts
}

// HasRejected reports whether provider permanently refused this item.
func (q *QueueItem) HasRejected(provider ProviderID) bool {
	for _, p := range q.RejectedProviders {
		if p == provider {
			return true
		}
	}
	return false
}
