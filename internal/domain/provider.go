package domain

import (
	"fmt"
	"strings"
)

// ProviderID identifies one external email delivery channel, e.g. "sendgrid".
type ProviderID string

func (p ProviderID) String() string { return string(p) }

func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	if id == "" {
		return "", fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	return id, nil
}

// Provider is static delivery channel configuration. A DailyLimit or
// MonthlyLimit <= 0 means the provider has no cap for that period.
type Provider struct {
	ID           ProviderID
	Endpoint     string
	DailyLimit   int64
	MonthlyLimit int64
	RatePerSec   int
	// Priority is the static tie-break order; lower sends first.
	Priority int
}

func (p Provider) Validate() error {
	if strings.TrimSpace(p.ID.String()) == "" {
		return fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Endpoint) == "" {
		return fmt.Errorf("%w: provider %q endpoint is required", ErrValidation, p.ID)
	}
	if p.DailyLimit > 0 && p.MonthlyLimit > 0 && p.DailyLimit > p.MonthlyLimit {
		return fmt.Errorf("%w: provider %q daily limit exceeds monthly limit", ErrValidation, p.ID)
	}
	return nil
}
