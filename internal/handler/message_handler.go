package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/service"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/transport"
	"github.com/gofiber/fiber/v2"
)

type MessageService interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (*domain.QueueItem, error)
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	Supersede(ctx context.Context, id string, note string) error
}

type MessageHandler struct {
	service MessageService
}

func NewMessageHandler(service MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService) error {
	h, err := NewMessageHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.Enqueue)
	v1.Get("/messages/:id", h.GetMessage)
	v1.Post("/messages/:id/supersede", h.Supersede)

	return nil
}

type supersedeRequest struct {
	Note string `json:"note"`
}

type messageResponse struct {
	ID                 string         `json:"id"`
	Recipient          string         `json:"recipient"`
	Category           string         `json:"category"`
	Template           string         `json:"template"`
	Payload            map[string]any `json:"payload,omitempty"`
	Status             string         `json:"status"`
	Attempts           int            `json:"attempts"`
	MaxAttempts        int            `json:"maxAttempts"`
	LastError          *string        `json:"lastError,omitempty"`
	NextRetryAt        *time.Time     `json:"nextRetryAt,omitempty"`
	AttemptedProviders []string       `json:"attemptedProviders,omitempty"`
	DeliveredBy        *string        `json:"deliveredBy,omitempty"`
	ProviderMessageID  *string        `json:"providerMessageId,omitempty"`
	Note               *string        `json:"note,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func (h *MessageHandler) Enqueue(c *fiber.Ctx) error {
	var req service.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	item, err := h.service.Enqueue(requestContext(c), req)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toMessageResponse(item))
}

func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	item, err := h.service.GetByID(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toMessageResponse(item))
}

func (h *MessageHandler) Supersede(c *fiber.Ctx) error {
	var req supersedeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Supersede(requestContext(c), id, req.Note); err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":     id,
		"status": domain.QueueStatusCompleted.String(),
	})
}

// requestContext carries the request id into service calls as the
// correlation id.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toMessageResponse(item *domain.QueueItem) messageResponse {
	if item == nil {
		return messageResponse{}
	}

	resp := messageResponse{
		ID:                 item.ID,
		Recipient:          item.Recipient,
		Category:           item.Category.String(),
		Template:           item.TemplateID,
		Payload:            item.Payload,
		Status:             item.Status.String(),
		Attempts:           item.Attempts,
		MaxAttempts:        item.MaxAttempts,
		LastError:          item.LastError,
		NextRetryAt:        item.NextRetryAt,
		AttemptedProviders: providerStrings(item.AttemptedProviders),
		ProviderMessageID:  item.ProviderMessageID,
		Note:               item.Note,
		CreatedAt:          item.CreatedAt,
		UpdatedAt:          item.UpdatedAt,
	}
	if item.DeliveredBy != nil {
		by := item.DeliveredBy.String()
		resp.DeliveredBy = &by
	}
	return resp
}

func providerStrings(ids []domain.ProviderID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
