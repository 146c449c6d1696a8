package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDeliveryService(t *testing.T, repo *fakeQueueRepo, pub WakePublisher, logger *zap.Logger) *DeliveryService {
	t.Helper()

	svc, err := NewDeliveryService(repo, pub, 3, logger)
	if err != nil {
		t.Fatalf("NewDeliveryService() error = %v", err)
	}
	svc.now = func() time.Time { return dispatchNow }
	return svc
}

func TestDeliveryServiceEnqueueHappyPath(t *testing.T) {
	t.Parallel()

	var stored *domain.QueueItem
	repo := &fakeQueueRepo{
		enqueueFn: func(ctx context.Context, item *domain.QueueItem) error {
			stored = item
			return nil
		},
	}
	pub := &fakePublisher{}
	svc := newTestDeliveryService(t, repo, pub, nil)

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	item, err := svc.Enqueue(ctx, EnqueueRequest{
		Recipient:  " donor@example.org ",
		Category:   "Listing_Match",
		TemplateID: "listing-match",
		Payload:    map[string]any{"listingId": "l-9"},
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if stored == nil || stored != item {
		t.Fatal("item should be persisted")
	}
	if _, err := uuid.Parse(item.ID); err != nil {
		t.Fatalf("id = %q, want uuid", item.ID)
	}
	if item.Status != domain.QueueStatusQueued {
		t.Fatalf("status = %s, want queued", item.Status)
	}
	if item.Recipient != "donor@example.org" || item.Category != domain.CategoryListingMatch {
		t.Fatalf("item = %+v, want normalized recipient and category", item)
	}
	if item.MaxAttempts != 3 || item.Attempts != 0 {
		t.Fatalf("attempts = %d/%d, want 0/3", item.Attempts, item.MaxAttempts)
	}
	if item.NextRetryAt == nil || !item.NextRetryAt.Equal(dispatchNow) {
		t.Fatalf("next retry at = %v, want now", item.NextRetryAt)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.published))
	}
	msg := pub.published[0]
	if msg.QueueItemID != item.ID || msg.CorrelationID != "corr-1" || msg.Category != domain.CategoryListingMatch {
		t.Fatalf("wake message = %+v", msg)
	}
}

func TestDeliveryServiceEnqueueValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  EnqueueRequest
		want string
	}{
		{name: "missing recipient", req: EnqueueRequest{Category: "system", TemplateID: "t"}, want: "recipient"},
		{name: "bad email", req: EnqueueRequest{Recipient: "nope", Category: "system", TemplateID: "t"}, want: "recipient failed email"},
		{name: "unknown category", req: EnqueueRequest{Recipient: "a@b.org", Category: "sms", TemplateID: "t"}, want: "category failed oneof"},
		{name: "missing template", req: EnqueueRequest{Recipient: "a@b.org", Category: "system"}, want: "templateid"},
		{name: "too many attempts", req: EnqueueRequest{Recipient: "a@b.org", Category: "system", TemplateID: "t", MaxAttempts: 50}, want: "maxattempts"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &fakeQueueRepo{
				enqueueFn: func(ctx context.Context, item *domain.QueueItem) error {
					t.Fatal("invalid request must not be persisted")
					return nil
				},
			}
			svc := newTestDeliveryService(t, repo, &fakePublisher{}, nil)

			_, err := svc.Enqueue(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Enqueue() error = %v, want %v", err, domain.ErrValidation)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Enqueue() error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDeliveryServiceEnqueuePublishFailureIsLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	svc := newTestDeliveryService(t, &fakeQueueRepo{}, &fakePublisher{err: errors.New("broker down")}, zap.New(core))

	item, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Recipient:  "a@b.org",
		Category:   "chat_alert",
		TemplateID: "chat",
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v, want nil on publish failure", err)
	}
	if item == nil {
		t.Fatal("item should be returned")
	}
	if logs.FilterMessage("failed to publish wake message").Len() != 1 {
		t.Fatal("publish failure should be logged")
	}
}

func TestDeliveryServiceSupersede(t *testing.T) {
	t.Parallel()

	var gotNote string
	repo := &fakeQueueRepo{
		supersedeFn: func(ctx context.Context, id string, note string) error {
			gotNote = note
			return nil
		},
	}
	svc := newTestDeliveryService(t, repo, nil, nil)
	id := uuid.NewString()

	if err := svc.Supersede(context.Background(), id, "newer digest sent"); err != nil {
		t.Fatalf("Supersede() error = %v", err)
	}
	if gotNote != "superseded: newer digest sent" {
		t.Fatalf("note = %q", gotNote)
	}

	if err := svc.Supersede(context.Background(), id, ""); err != nil {
		t.Fatalf("Supersede() error = %v", err)
	}
	if gotNote != domain.SupersededNote {
		t.Fatalf("note = %q, want %q", gotNote, domain.SupersededNote)
	}

	repo.supersedeFn = func(ctx context.Context, id string, note string) error { return domain.ErrConflict }
	if err := svc.Supersede(context.Background(), id, ""); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Supersede() error = %v, want %v", err, domain.ErrConflict)
	}

	if err := svc.Supersede(context.Background(), "not-a-uuid", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Supersede() error = %v, want %v", err, domain.ErrValidation)
	}
}

func TestDeliveryServicePublishDomainEvent(t *testing.T) {
	t.Parallel()

	var stored []*domain.QueueItem
	repo := &fakeQueueRepo{
		enqueueFn: func(ctx context.Context, item *domain.QueueItem) error {
			stored = append(stored, item)
			return nil
		},
	}
	svc := newTestDeliveryService(t, repo, &fakePublisher{}, nil)

	svc.Subscribe("chat.message_created", func(ctx context.Context, event DomainEvent) ([]EnqueueRequest, error) {
		return []EnqueueRequest{{
			Recipient:  event.Data["recipient"].(string),
			Category:   "chat_alert",
			TemplateID: "chat-new-message",
			Payload:    event.Data,
		}}, nil
	})

	items, err := svc.Publish(context.Background(), DomainEvent{
		Name:       "chat.message_created",
		Data:       map[string]any{"recipient": "sharer@example.org", "chatId": "c1"},
		OccurredAt: dispatchNow,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(items) != 1 || len(stored) != 1 {
		t.Fatalf("items = %d stored = %d, want exactly 1", len(items), len(stored))
	}

	items, err = svc.Publish(context.Background(), DomainEvent{Name: "listing.expired"})
	if err != nil || len(items) != 0 {
		t.Fatalf("Publish(unsubscribed) = %v, %v, want nothing", items, err)
	}
}

func TestDeliveryServicePublishCollectsErrors(t *testing.T) {
	t.Parallel()

	svc := newTestDeliveryService(t, &fakeQueueRepo{}, nil, nil)
	svc.Subscribe("listing.matched", func(ctx context.Context, event DomainEvent) ([]EnqueueRequest, error) {
		return []EnqueueRequest{
			{Recipient: "bad", Category: "listing_match", TemplateID: "m"},
			{Recipient: "ok@example.org", Category: "listing_match", TemplateID: "m"},
		}, nil
	})
	svc.Subscribe("listing.matched", func(ctx context.Context, event DomainEvent) ([]EnqueueRequest, error) {
		return nil, errors.New("lookup failed")
	})

	items, err := svc.Publish(context.Background(), DomainEvent{Name: "listing.matched"})
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), "lookup failed") {
		t.Fatalf("Publish() error = %v, want joined validation and mapper errors", err)
	}
}
