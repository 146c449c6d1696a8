package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/service"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/transport"
	"github.com/gofiber/fiber/v2"
)

const (
	adminActorHeader = "X-Admin-Actor"
	actorLocal       = "adminActor"
	defaultListLimit = 50
	maxListLimit     = 500
)

type AdminService interface {
	ProviderSummaries(ctx context.Context) ([]service.ProviderSummary, error)
	ResetProvider(ctx context.Context, id string, actor string) error
	RecentEvents(ctx context.Context, provider string, limit int) ([]domain.HealthEvent, error)
	Dispatch(ctx context.Context, actor string) (service.CycleReport, error)
	QueueDepth(ctx context.Context) (map[string]int64, error)
}

type DeadLetterService interface {
	List(ctx context.Context, reviewed *bool, limit int) ([]domain.DeadLetterItem, error)
	Get(ctx context.Context, id string) (*domain.DeadLetterItem, error)
	Retry(ctx context.Context, id string, actor string) (*domain.QueueItem, error)
	MarkReviewed(ctx context.Context, id string, actor string) error
	Purge(ctx context.Context, id string, actor string) error
}

type AdminHandler struct {
	admin       AdminService
	deadLetters DeadLetterService
}

func NewAdminHandler(admin AdminService, deadLetters DeadLetterService) (*AdminHandler, error) {
	if admin == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter service is required")
	}
	return &AdminHandler{admin: admin, deadLetters: deadLetters}, nil
}

// RegisterAdminRoutes mounts the operator console under /v1/admin. With an
// empty token the routes are not mounted at all.
func RegisterAdminRoutes(router fiber.Router, token string, admin AdminService, deadLetters DeadLetterService) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	h, err := NewAdminHandler(admin, deadLetters)
	if err != nil {
		return false, err
	}

	g := router.Group("/v1/admin", RequireAdmin(token))
	g.Get("/providers", h.ListProviders)
	g.Post("/providers/:id/reset", requireActor, h.ResetProvider)
	g.Get("/queue", h.QueueDepth)
	g.Post("/dispatch", requireActor, h.Dispatch)
	g.Get("/events", h.ListEvents)
	g.Get("/dead-letters", h.ListDeadLetters)
	g.Get("/dead-letters/:id", h.GetDeadLetter)
	g.Post("/dead-letters/:id/retry", requireActor, h.RetryDeadLetter)
	g.Post("/dead-letters/:id/review", requireActor, h.ReviewDeadLetter)
	g.Delete("/dead-letters/:id", requireActor, h.PurgeDeadLetter)

	return true, nil
}

// RequireAdmin checks the bearer token in constant time.
func RequireAdmin(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) != 1 {
			return transport.ToHTTPError(fmt.Errorf("%w: invalid admin token", domain.ErrUnauthorized))
		}
		return c.Next()
	}
}

func requireActor(c *fiber.Ctx) error {
	actor := strings.TrimSpace(c.Get(adminActorHeader))
	if actor == "" {
		return transport.ToHTTPError(fmt.Errorf("%w: %s header is required", domain.ErrValidation, adminActorHeader))
	}
	c.Locals(actorLocal, actor)
	return c.Next()
}

func actorFrom(c *fiber.Ctx) string {
	actor, _ := c.Locals(actorLocal).(string)
	return actor
}

type deadLetterResponse struct {
	ID                 string         `json:"id"`
	QueueItemID        string         `json:"queueItemId"`
	Recipient          string         `json:"recipient"`
	Category           string         `json:"category"`
	Template           string         `json:"template"`
	Payload            map[string]any `json:"payload,omitempty"`
	Attempts           int            `json:"attempts"`
	ProvidersAttempted []string       `json:"providersAttempted"`
	FailureReason      string         `json:"failureReason"`
	MovedAt            time.Time      `json:"movedAt"`
	ReviewedAt         *time.Time     `json:"reviewedAt,omitempty"`
	ReviewedBy         *string        `json:"reviewedBy,omitempty"`
}

type eventResponse struct {
	ID        string         `json:"id"`
	Provider  *string        `json:"provider,omitempty"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (h *AdminHandler) ListProviders(c *fiber.Ctx) error {
	summaries, err := h.admin.ProviderSummaries(requestContext(c))
	if err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": summaries})
}

func (h *AdminHandler) ResetProvider(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.admin.ResetProvider(requestContext(c), id, actorFrom(c)); err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"provider": strings.ToLower(id),
		"state":    domain.CircuitClosed.String(),
	})
}

func (h *AdminHandler) QueueDepth(c *fiber.Ctx) error {
	depth, err := h.admin.QueueDepth(requestContext(c))
	if err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(depth)
}

func (h *AdminHandler) Dispatch(c *fiber.Ctx) error {
	report, err := h.admin.Dispatch(requestContext(c), actorFrom(c))
	if err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

func (h *AdminHandler) ListEvents(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	events, err := h.admin.RecentEvents(requestContext(c), c.Query("provider"), limit)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp := eventResponse{
			ID:        e.ID,
			Type:      e.Type.String(),
			Severity:  e.Severity.String(),
			Message:   e.Message,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		}
		if e.Provider != nil {
			p := e.Provider.String()
			resp.Provider = &p
		}
		out = append(out, resp)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *AdminHandler) ListDeadLetters(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	var reviewed *bool
	if raw := strings.TrimSpace(c.Query("reviewed")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return transport.ToHTTPError(fmt.Errorf("%w: reviewed must be true or false", domain.ErrValidation))
		}
		reviewed = &v
	}

	items, err := h.deadLetters.List(requestContext(c), reviewed, limit)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	out := make([]deadLetterResponse, 0, len(items))
	for i := range items {
		out = append(out, toDeadLetterResponse(&items[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *AdminHandler) GetDeadLetter(c *fiber.Ctx) error {
	item, err := h.deadLetters.Get(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDeadLetterResponse(item))
}

func (h *AdminHandler) RetryDeadLetter(c *fiber.Ctx) error {
	item, err := h.deadLetters.Retry(requestContext(c), strings.TrimSpace(c.Params("id")), actorFrom(c))
	if err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toMessageResponse(item))
}

func (h *AdminHandler) ReviewDeadLetter(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.deadLetters.MarkReviewed(requestContext(c), id, actorFrom(c)); err != nil {
		return transport.ToHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": id, "reviewed": true})
}

func (h *AdminHandler) PurgeDeadLetter(c *fiber.Ctx) error {
	if err := h.deadLetters.Purge(requestContext(c), strings.TrimSpace(c.Params("id")), actorFrom(c)); err != nil {
		return transport.ToHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func parseLimit(c *fiber.Ctx) (int, error) {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxListLimit)
	}
	return limit, nil
}

func toDeadLetterResponse(d *domain.DeadLetterItem) deadLetterResponse {
	if d == nil {
		return deadLetterResponse{}
	}
	providers := providerStrings(d.ProvidersAttempted)
	if providers == nil {
		providers = []string{}
	}
	return deadLetterResponse{
		ID:                 d.ID,
		QueueItemID:        d.QueueItemID,
		Recipient:          d.Recipient,
		Category:           d.Category.String(),
		Template:           d.TemplateID,
		Payload:            d.Payload,
		Attempts:           d.Attempts,
		ProvidersAttempted: providers,
		FailureReason:      d.FailureReason,
		MovedAt:            d.MovedAt,
		ReviewedAt:         d.ReviewedAt,
		ReviewedBy:         d.ReviewedBy,
	}
}
