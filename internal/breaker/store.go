// Package breaker implements the per-provider circuit breaker registry.
package breaker

import (
	"context"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// Permit is the answer to an Acquire call.
type Permit int

const (
	PermitDenied Permit = iota
	// PermitClosed lets a normal send through a closed breaker.
	PermitClosed
	// PermitProbe grants the single half-open probe for the provider.
	PermitProbe
)

func (p Permit) Allowed() bool { return p != PermitDenied }

// Transition is the state change caused by recording an outcome.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionOpened
	TransitionReopened
	TransitionClosed
)

// Settings tunes the state machine.
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	// ProbeLease bounds how long a granted probe blocks other probes when
	// its outcome is never recorded.
	ProbeLease time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Cooldown:         time.Minute,
		ProbeLease:       30 * time.Second,
	}
}

// Normalize fills zero fields with DefaultSettings values.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.Cooldown
	}
	if s.ProbeLease <= 0 {
		s.ProbeLease = d.ProbeLease
	}
	return s
}

// Store persists breaker rows. Every method is one atomic per-provider
// operation; implementations must be safe across processes.
type Store interface {
	Acquire(ctx context.Context, provider domain.ProviderID, now time.Time) (Permit, error)
	ReleaseProbe(ctx context.Context, provider domain.ProviderID) error
	RecordFailure(ctx context.Context, provider domain.ProviderID, now time.Time, errInfo string) (Transition, error)
	RecordSuccess(ctx context.Context, provider domain.ProviderID) (Transition, error)
	Get(ctx context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error)
	Reset(ctx context.Context, provider domain.ProviderID) (domain.CircuitState, error)
}
