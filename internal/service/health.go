package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"go.uber.org/zap"
)

const (
	successWeight = 70.0
	latencyWeight = 30.0

	fastLatency = 500 * time.Millisecond
	slowLatency = 10 * time.Second
)

// BreakerReader reads a provider's circuit breaker row.
type BreakerReader interface {
	State(ctx context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error)
}

// HealthScore is one provider's computed health for the current UTC day.
type HealthScore struct {
	Provider       domain.ProviderID
	Score          float64
	SuccessRate    float64
	AverageLatency time.Duration
	TotalRequests  int64
	State          domain.CircuitState
	ComputedAt     time.Time
}

// ComputeScore returns 0-100: 70 weighted on today's success rate and 30 on
// latency, where latency counts fully up to 500ms and not at all from 10s.
// An open circuit always scores 0.
func ComputeScore(metrics domain.ProviderMetrics, state domain.CircuitState) float64 {
	if state == domain.CircuitOpen {
		return 0
	}

	latencyFactor := 1.0
	if metrics.TotalRequests > 0 {
		avg := metrics.AverageLatency()
		switch {
		case avg <= fastLatency:
			latencyFactor = 1
		case avg >= slowLatency:
			latencyFactor = 0
		default:
			latencyFactor = 1 - float64(avg-fastLatency)/float64(slowLatency-fastLatency)
		}
	}

	score := successWeight*metrics.SuccessRate() + latencyWeight*latencyFactor
	return math.Round(score*100) / 100
}

// HealthMonitor accumulates per-provider outcomes and derives health scores.
type HealthMonitor struct {
	metricsRepo repository.MetricsRepository
	breakers    BreakerReader
	providers   []domain.Provider
	maxAge      time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	mu       sync.RWMutex
	cached   map[domain.ProviderID]HealthScore
	cachedAt time.Time
}

func NewHealthMonitor(
	metricsRepo repository.MetricsRepository,
	breakers BreakerReader,
	providers []domain.Provider,
	maxAge time.Duration,
	logger *zap.Logger,
) (*HealthMonitor, error) {
	if metricsRepo == nil {
		return nil, fmt.Errorf("metrics repository is required")
	}
	if breakers == nil {
		return nil, fmt.Errorf("breaker reader is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthMonitor{
		metricsRepo: metricsRepo,
		breakers:    breakers,
		providers:   providers,
		maxAge:      maxAge,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (h *HealthMonitor) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

// Record adds one send outcome to today's counters.
func (h *HealthMonitor) Record(ctx context.Context, provider domain.ProviderID, success bool, latency time.Duration) error {
	if err := h.metricsRepo.Record(ctx, provider, h.now(), success, latency); err != nil {
		return fmt.Errorf("failed to record metrics for %s: %w", provider, err)
	}
	return nil
}

// Snapshot recomputes every provider's score, refreshes the cache and the
// exported gauge.
func (h *HealthMonitor) Snapshot(ctx context.Context) (map[domain.ProviderID]HealthScore, error) {
	now := h.now()

	rows, err := h.metricsRepo.ForDay(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider metrics: %w", err)
	}
	byProvider := make(map[domain.ProviderID]domain.ProviderMetrics, len(rows))
	for _, row := range rows {
		byProvider[row.Provider] = row
	}

	scores := make(map[domain.ProviderID]HealthScore, len(h.providers))
	for _, p := range h.providers {
		snapshot, err := h.breakers.State(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		state := snapshot.EffectiveState(now)

		m, ok := byProvider[p.ID]
		if !ok {
			m = domain.ProviderMetrics{Provider: p.ID, Day: domain.Day(now)}
		}

		score := HealthScore{
			Provider:       p.ID,
			Score:          ComputeScore(m, state),
			SuccessRate:    m.SuccessRate(),
			AverageLatency: m.AverageLatency(),
			TotalRequests:  m.TotalRequests,
			State:          state,
			ComputedAt:     now,
		}
		scores[p.ID] = score
		h.metrics.SetHealthScore(p.ID.String(), score.Score)
	}

	h.mu.Lock()
	h.cached = scores
	h.cachedAt = now
	h.mu.Unlock()

	return copyScores(scores), nil
}

// Scores returns the cached snapshot, recomputing it once it is older than
// the snapshot interval.
func (h *HealthMonitor) Scores(ctx context.Context) (map[domain.ProviderID]HealthScore, error) {
	h.mu.RLock()
	cached, cachedAt := h.cached, h.cachedAt
	h.mu.RUnlock()

	if cached != nil && h.now().Sub(cachedAt) < h.maxAge {
		return copyScores(cached), nil
	}
	return h.Snapshot(ctx)
}

func copyScores(in map[domain.ProviderID]HealthScore) map[domain.ProviderID]HealthScore {
	out := make(map[domain.ProviderID]HealthScore, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
