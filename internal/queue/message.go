package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// WakeMessage tells a dispatcher that a new item is due. It carries no
// payload: the item itself is always read from the delivery queue table.
type WakeMessage struct {
	QueueItemID   string          `json:"queueItemId"`
	Category      domain.Category `json:"category"`
	CorrelationID string          `json:"correlationId,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

func (m WakeMessage) Validate() error {
	if strings.TrimSpace(m.QueueItemID) == "" {
		return fmt.Errorf("queueItemId is required")
	}
	if !m.Category.IsValid() {
		return fmt.Errorf("invalid category %q", m.Category)
	}
	return nil
}
