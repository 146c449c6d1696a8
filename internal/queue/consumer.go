package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// disposition is what happens to a delivery once it has been looked at.
type disposition int

const (
	dispositionAck disposition = iota
	// dispositionReject drops a malformed message without redelivery.
	dispositionReject
	// dispositionDrop drops a well-formed message whose handler failed. The
	// dispatch ticker still covers the item, so redelivery adds nothing.
	dispositionDrop
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

var _ Consumer = (*RabbitMQConsumer)(nil)

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{client: client, prefetch: prefetch, logger: logger}
}

// Consume blocks until ctx is done, resubscribing with backoff whenever the
// broker connection drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.subscribe(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("wake consumer disconnected, resubscribing", zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, WakeQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", WakeQueueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := settle(d, c.dispatch(ctx, d.Body, handler)); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one wake message and runs handler on it.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, body []byte, handler MessageHandler) disposition {
	var msg WakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("rejecting wake message: invalid JSON", zap.Error(err))
		return dispositionReject
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting wake message", zap.Error(err), zap.String("queueItemId", msg.QueueItemID))
		return dispositionReject
	}
	if err := handler(ctx, msg); err != nil {
		c.logger.Warn("wake handler failed, dropping message", zap.Error(err), zap.String("queueItemId", msg.QueueItemID))
		return dispositionDrop
	}
	return dispositionAck
}

func settle(d amqp.Delivery, outcome disposition) error {
	var err error
	switch outcome {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionReject:
		err = d.Reject(false)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery: %w", err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
