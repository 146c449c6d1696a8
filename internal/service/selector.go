package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"go.uber.org/zap"
)

// Exclusion explains why a provider is not eligible right now.
type Exclusion string

const (
	ExclusionNone           Exclusion = ""
	ExclusionCircuitOpen    Exclusion = "circuit_open"
	ExclusionQuotaExhausted Exclusion = "quota_exhausted"
)

// QuotaReader reports a provider's remaining allowance without consuming it.
type QuotaReader interface {
	Remaining(ctx context.Context, provider domain.Provider) (domain.QuotaRemaining, error)
}

// ScoreSource supplies health scores, usually from a cached snapshot.
type ScoreSource interface {
	Scores(ctx context.Context) (map[domain.ProviderID]HealthScore, error)
}

// Candidate is one provider as seen by the selector.
type Candidate struct {
	Provider domain.Provider
	Breaker  domain.BreakerSnapshot
	// State folds the read-time open -> half_open check into the stored state.
	State    domain.CircuitState
	Quota    domain.QuotaRemaining
	Health   HealthScore
	Probe    bool
	Excluded Exclusion
}

func (c Candidate) Eligible() bool { return c.Excluded == ExclusionNone }

type Selector struct {
	providers []domain.Provider
	breakers  BreakerReader
	quotas    QuotaReader
	scores    ScoreSource
	logger    *zap.Logger
	now       func() time.Time
}

func NewSelector(
	providers []domain.Provider,
	breakers BreakerReader,
	quotas QuotaReader,
	scores ScoreSource,
	logger *zap.Logger,
) (*Selector, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if breakers == nil {
		return nil, fmt.Errorf("breaker reader is required")
	}
	if quotas == nil {
		return nil, fmt.Errorf("quota reader is required")
	}
	if scores == nil {
		return nil, fmt.Errorf("score source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Selector{
		providers: providers,
		breakers:  breakers,
		quotas:    quotas,
		scores:    scores,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Evaluate returns every configured provider in dispatch order: closed
// providers by health score, then half-open probe candidates, then excluded
// providers. Ties fall back to configured priority.
func (s *Selector) Evaluate(ctx context.Context) ([]Candidate, error) {
	now := s.now()

	scores, err := s.scores.Scores(ctx)
	if err != nil {
		// Priority order alone is still a usable ranking.
		s.logger.Warn("health scores unavailable, ranking by priority", zap.Error(err))
		scores = nil
	}

	candidates := make([]Candidate, 0, len(s.providers))
	for _, p := range s.providers {
		snapshot, err := s.breakers.State(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		remaining, err := s.quotas.Remaining(ctx, p)
		if err != nil {
			return nil, err
		}

		c := Candidate{
			Provider: p,
			Breaker:  snapshot,
			State:    snapshot.EffectiveState(now),
			Quota:    remaining,
		}
		if score, ok := scores[p.ID]; ok {
			c.Health = score
		} else {
			c.Health = HealthScore{Provider: p.ID, Score: 100, SuccessRate: 1, State: c.State}
		}

		switch {
		case remaining.Exhausted():
			c.Excluded = ExclusionQuotaExhausted
		case c.State == domain.CircuitOpen:
			c.Excluded = ExclusionCircuitOpen
		case c.State == domain.CircuitHalfOpen:
			c.Probe = true
		}
		if c.State == domain.CircuitOpen {
			c.Health.Score = 0
		}

		candidates = append(candidates, c)
	}

	slices.SortStableFunc(candidates, compareCandidates)
	return candidates, nil
}

// Rank returns the providers a send may be attempted on, best first.
// Quota-exhausted providers are always dropped; open circuits are dropped
// when excludeOpen is set.
func (s *Selector) Rank(ctx context.Context, excludeOpen bool) ([]Candidate, error) {
	all, err := s.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	ranked := make([]Candidate, 0, len(all))
	for _, c := range all {
		if c.Excluded == ExclusionQuotaExhausted {
			continue
		}
		if c.Excluded == ExclusionCircuitOpen && excludeOpen {
			continue
		}
		ranked = append(ranked, c)
	}
	return ranked, nil
}

func candidateTier(c Candidate) int {
	switch {
	case !c.Eligible():
		return 2
	case c.Probe:
		return 1
	default:
		return 0
	}
}

func compareCandidates(a, b Candidate) int {
	if ta, tb := candidateTier(a), candidateTier(b); ta != tb {
		return ta - tb
	}
	if candidateTier(a) == 0 && a.Health.Score != b.Health.Score {
		if a.Health.Score > b.Health.Score {
			return -1
		}
		return 1
	}
	return a.Provider.Priority - b.Provider.Priority
}
