package provider

import (
	"context"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// Message is the provider-agnostic payload handed to a transport adapter.
type Message struct {
	ID         string
	Recipient  string
	Category   domain.Category
	TemplateID string
	Payload    map[string]any
}

// MessageFromQueueItem builds the transport message for a queue item.
func MessageFromQueueItem(item *domain.QueueItem) Message {
	return Message{
		ID:         item.ID,
		Recipient:  item.Recipient,
		Category:   item.Category,
		TemplateID: item.TemplateID,
		Payload:    item.Payload,
	}
}

// Provider is the outbound email delivery port. Implementations must honor
// ctx cancellation; the dispatcher always passes a deadline.
type Provider interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// Result stores provider call metadata for audit and persistence.
type Result struct {
	StatusCode int
	Body       string
	MessageID  string
}
