package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"go.uber.org/zap"
)

// BreakerResetter force-closes a provider's circuit.
type BreakerResetter interface {
	Reset(ctx context.Context, provider domain.ProviderID, actor string) error
}

// EventReader lists recent event log entries.
type EventReader interface {
	Recent(ctx context.Context, filter repository.EventFilter) ([]domain.HealthEvent, error)
}

// CycleRunner runs one dispatch cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// QueueCounter reports queue depth per status.
type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error)
}

// ProviderSummary is the admin console row for one provider.
type ProviderSummary struct {
	Provider         string     `json:"provider"`
	Priority         int        `json:"priority"`
	State            string     `json:"state"`
	Failures         int        `json:"failures"`
	LastError        string     `json:"lastError,omitempty"`
	NextRetryAt      *time.Time `json:"nextRetryAt,omitempty"`
	DailyRemaining   int64      `json:"dailyRemaining"`
	MonthlyRemaining int64      `json:"monthlyRemaining"`
	DailySent        int64      `json:"dailySent"`
	MonthlySent      int64      `json:"monthlySent"`
	SuccessRate      float64    `json:"successRate"`
	AverageLatencyMs int64      `json:"averageLatencyMs"`
	TotalRequests    int64      `json:"totalRequests"`
	Score            float64    `json:"score"`
	Excluded         string     `json:"excluded,omitempty"`
}

// AdminService backs the operator console.
type AdminService struct {
	candidates CandidateSource
	breakers   BreakerResetter
	events     EventReader
	dispatcher CycleRunner
	queue      QueueCounter
	logger     *zap.Logger
}

func NewAdminService(
	candidates CandidateSource,
	breakers BreakerResetter,
	events EventReader,
	dispatcher CycleRunner,
	queueCounter QueueCounter,
	logger *zap.Logger,
) (*AdminService, error) {
	switch {
	case candidates == nil:
		return nil, fmt.Errorf("candidate source is required")
	case breakers == nil:
		return nil, fmt.Errorf("breaker resetter is required")
	case events == nil:
		return nil, fmt.Errorf("event reader is required")
	case dispatcher == nil:
		return nil, fmt.Errorf("cycle runner is required")
	case queueCounter == nil:
		return nil, fmt.Errorf("queue counter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminService{
		candidates: candidates,
		breakers:   breakers,
		events:     events,
		dispatcher: dispatcher,
		queue:      queueCounter,
		logger:     logger,
	}, nil
}

// ProviderSummaries lists every provider in current dispatch order.
func (s *AdminService) ProviderSummaries(ctx context.Context) ([]ProviderSummary, error) {
	candidates, err := s.candidates.Evaluate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate providers: %w", err)
	}

	out := make([]ProviderSummary, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, ProviderSummary{
			Provider:         c.Provider.ID.String(),
			Priority:         c.Provider.Priority,
			State:            c.State.String(),
			Failures:         c.Breaker.Failures,
			LastError:        c.Breaker.LastError,
			NextRetryAt:      c.Breaker.NextRetryAt,
			DailyRemaining:   c.Quota.Daily,
			MonthlyRemaining: c.Quota.Monthly,
			DailySent:        c.Quota.DailySent,
			MonthlySent:      c.Quota.MonthlySent,
			SuccessRate:      c.Health.SuccessRate,
			AverageLatencyMs: c.Health.AverageLatency.Milliseconds(),
			TotalRequests:    c.Health.TotalRequests,
			Score:            c.Health.Score,
			Excluded:         string(c.Excluded),
		})
	}
	return out, nil
}

func (s *AdminService) ResetProvider(ctx context.Context, id string, actor string) error {
	providerID, err := domain.ParseProviderID(id)
	if err != nil {
		return err
	}

	candidates, err := s.candidates.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("failed to evaluate providers: %w", err)
	}
	known := false
	for _, c := range candidates {
		if c.Provider.ID == providerID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: provider %q", domain.ErrNotFound, providerID)
	}

	return s.breakers.Reset(ctx, providerID, strings.TrimSpace(actor))
}

func (s *AdminService) RecentEvents(ctx context.Context, provider string, limit int) ([]domain.HealthEvent, error) {
	filter := repository.EventFilter{Limit: limit}
	if strings.TrimSpace(provider) != "" {
		id, err := domain.ParseProviderID(provider)
		if err != nil {
			return nil, err
		}
		filter.Provider = &id
	}
	return s.events.Recent(ctx, filter)
}

// Dispatch runs one cycle synchronously, for operators unblocking a backlog.
func (s *AdminService) Dispatch(ctx context.Context, actor string) (CycleReport, error) {
	s.logger.Info("on-demand dispatch requested", zap.String("actor", actor))
	return s.dispatcher.RunCycle(ctx)
}

func (s *AdminService) QueueDepth(ctx context.Context) (map[string]int64, error) {
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}

	out := map[string]int64{
		domain.QueueStatusQueued.String():     0,
		domain.QueueStatusProcessing.String(): 0,
		domain.QueueStatusCompleted.String():  0,
		domain.QueueStatusFailed.String():     0,
	}
	for status, n := range counts {
		out[status.String()] = n
	}
	return out, nil
}
