package domain

import "time"

// DeadLetterItem is the terminal record of a message that exhausted retries.
type DeadLetterItem struct {
	ID                 string
	QueueItemID        string
	Recipient          string
	Category           Category
	TemplateID         string
	Payload            map[string]any
	Attempts           int
	MaxAttempts        int
	ProvidersAttempted []ProviderID
	FailureReason      string
	MovedAt            time.Time
	ReviewedAt         *time.Time
	ReviewedBy         *string
}

func (d *DeadLetterItem) Reviewed() bool {
	return d.ReviewedAt != nil
}

// Requeue builds a fresh QueueItem carrying the original payload and attempt
// budget. fallbackMax applies to rows recorded without a budget.
func (d *DeadLetterItem) Requeue(fallbackMax int) *QueueItem {
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = fallbackMax
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	payload := make(map[string]any, len(d.Payload))
	for k, v := range d.Payload {
		payload[k] = v
	}
	return &QueueItem{
		Recipient:   d.Recipient,
		Category:    d.Category,
		TemplateID:  d.TemplateID,
		Payload:     payload,
		Status:      QueueStatusQueued,
		Attempts:    0,
		MaxAttempts: maxAttempts,
	}
}
