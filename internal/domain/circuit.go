package domain

import (
	"fmt"
	"strings"
	"time"
)

// CircuitState is the circuit breaker state of a provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

func (s CircuitState) String() string { return string(s) }

func (s CircuitState) IsValid() bool {
	switch s {
	case CircuitClosed, CircuitOpen, CircuitHalfOpen:
		return true
	}
	return false
}

func ParseCircuitState(s string) (CircuitState, error) {
	st := CircuitState(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return CircuitClosed, nil
	}
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid circuit state %q", ErrValidation, s)
	}
	return st, nil
}

// BreakerSnapshot is a point-in-time copy of one provider's breaker row.
// NextRetryAt is non-nil if and only if State is CircuitOpen.
type BreakerSnapshot struct {
	Provider             ProviderID
	State                CircuitState
	Failures             int
	ConsecutiveSuccesses int
	LastFailureAt        *time.Time
	NextRetryAt          *time.Time
	LastError            string
}

// ProbeDue reports whether an open breaker has finished its cool-down and
// may be offered a half-open probe.
func (b BreakerSnapshot) ProbeDue(now time.Time) bool {
	return b.State == CircuitOpen && b.NextRetryAt != nil && !now.Before(*b.NextRetryAt)
}

// EffectiveState folds the read-time open -> half_open check into the state.
func (b BreakerSnapshot) EffectiveState(now time.Time) CircuitState {
	if b.ProbeDue(now) {
		return CircuitHalfOpen
	}
	if b.State == "" {
		return CircuitClosed
	}
	return b.State
}
