package queue

import (
	"context"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// WakeQueueName is the shared work queue dispatchers consume wake-ups from.
const WakeQueueName = "dispatch.wake"

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for the wake queue.
	queueMaxPriority int32 = 3
	// wakeMessageTTLMillis drops wake-ups nobody consumed; the dispatch
	// ticker picks those items up anyway.
	wakeMessageTTLMillis int32 = 5 * 60 * 1000
	wakeQueueMaxLength   int32 = 10000
)

// Publisher publishes wake messages.
type Publisher interface {
	Publish(ctx context.Context, msg WakeMessage) error
	Close() error
}

// MessageHandler handles a consumed wake message.
type MessageHandler func(ctx context.Context, msg WakeMessage) error

// Consumer consumes wake messages.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

// PriorityValue maps a message category to a RabbitMQ message priority.
// Conversational alerts outrank digests and campaigns.
func PriorityValue(category domain.Category) uint8 {
	switch category {
	case domain.CategoryChatAlert, domain.CategoryModerationReport:
		return 3
	case domain.CategoryListingMatch, domain.CategorySystem:
		return 2
	case domain.CategoryCampaign:
		return 1
	default:
		return 0
	}
}
