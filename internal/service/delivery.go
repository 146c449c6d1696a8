package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/queue"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnqueueRequest is the producer-facing contract for a new message.
type EnqueueRequest struct {
	Recipient   string         `json:"recipient" validate:"required,email,max=320"`
	Category    string         `json:"category" validate:"required,oneof=chat_alert listing_match moderation_report campaign system"`
	TemplateID  string         `json:"template" validate:"required,max=128"`
	Payload     map[string]any `json:"payload"`
	MaxAttempts int            `json:"maxAttempts,omitempty" validate:"omitempty,min=1,max=10"`
}

// DomainEvent is something that happened elsewhere in the product, such as a
// new chat message or a listing match, that may warrant notifications.
type DomainEvent struct {
	Name       string
	Data       map[string]any
	OccurredAt time.Time
}

// Mapper turns a domain event into zero or more enqueue requests.
type Mapper func(ctx context.Context, event DomainEvent) ([]EnqueueRequest, error)

type WakePublisher interface {
	Publish(ctx context.Context, msg queue.WakeMessage) error
}

// DeliveryService is the single entry point for putting messages on the
// delivery queue, whether called directly or through event subscriptions.
type DeliveryService struct {
	queue       repository.QueueRepository
	publisher   WakePublisher
	validate    *validator.Validate
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.RWMutex
	mappers map[string][]Mapper
}

func NewDeliveryService(
	queueRepo repository.QueueRepository,
	publisher WakePublisher,
	maxAttempts int,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if queueRepo == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		queue:       queueRepo,
		publisher:   publisher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
		mappers:     make(map[string][]Mapper),
	}, nil
}

// Enqueue validates req and inserts a queued item due immediately. Only
// malformed input is surfaced; a failed wake-up is logged because the
// dispatch timer still picks the item up.
func (s *DeliveryService) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.QueueItem, error) {
	req.Recipient = strings.TrimSpace(req.Recipient)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.TemplateID = strings.TrimSpace(req.TemplateID)

	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.maxAttempts
	}

	now := s.now().UTC()
	item := &domain.QueueItem{
		ID:          uuid.NewString(),
		Recipient:   req.Recipient,
		Category:    domain.Category(req.Category),
		TemplateID:  req.TemplateID,
		Payload:     req.Payload,
		Status:      domain.QueueStatusQueued,
		MaxAttempts: maxAttempts,
		NextRetryAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if item.Payload == nil {
		item.Payload = map[string]any{}
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	logger := observability.ItemLogger(s.logger, ctx, item)
	logger.Info("message enqueued")

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, wakeFor(ctx, item)); err != nil {
			logger.Warn("failed to publish wake message", zap.Error(err))
		}
	}

	return item, nil
}

func (s *DeliveryService) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid message id", domain.ErrValidation)
	}
	return s.queue.GetByID(ctx, id)
}

// Supersede completes a still-queued item with a note instead of deleting it,
// keeping the audit trail.
func (s *DeliveryService) Supersede(ctx context.Context, id string, note string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid message id", domain.ErrValidation)
	}

	note = strings.TrimSpace(note)
	if note == "" {
		note = domain.SupersededNote
	} else if !strings.HasPrefix(note, domain.SupersededNote) {
		note = domain.SupersededNote + ": " + note
	}

	if err := s.queue.Supersede(ctx, id, note); err != nil {
		return err
	}

	observability.WithContextLogger(s.logger, ctx).Info("message superseded",
		observability.QueueItemField(id),
		zap.String("note", note),
	)
	return nil
}

// Subscribe registers mapper for events named name. Several mappers may
// share one event name; each runs on Publish.
func (s *DeliveryService) Subscribe(name string, mapper Mapper) {
	name = strings.TrimSpace(name)
	if name == "" || mapper == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappers[name] = append(s.mappers[name], mapper)
}

// Publish runs every mapper subscribed to event.Name and enqueues what they
// return. Enqueue failures for one request do not stop the others; they are
// joined into the returned error.
func (s *DeliveryService) Publish(ctx context.Context, event DomainEvent) ([]*domain.QueueItem, error) {
	s.mu.RLock()
	mappers := append([]Mapper(nil), s.mappers[event.Name]...)
	s.mu.RUnlock()

	if len(mappers) == 0 {
		return nil, nil
	}

	var (
		items []*domain.QueueItem
		errs  []error
	)
	for _, mapper := range mappers {
		requests, err := mapper(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("mapper for %s failed: %w", event.Name, err))
			continue
		}
		for _, req := range requests {
			item, err := s.Enqueue(ctx, req)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			items = append(items, item)
		}
	}

	return items, errors.Join(errs...)
}

func wakeFor(ctx context.Context, item *domain.QueueItem) queue.WakeMessage {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	return queue.WakeMessage{
		QueueItemID:   item.ID,
		Category:      item.Category,
		CorrelationID: correlationID,
		EnqueuedAt:    item.CreatedAt,
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(parts, "; "))
}
