// Package quota defines the per-provider sending quota ledger.
package quota

import (
	"context"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// Consumption is the outcome of a TryConsume call.
type Consumption int

const (
	Consumed Consumption = iota + 1
	DailyExhausted
	MonthlyExhausted
)

func (c Consumption) OK() bool { return c == Consumed }

func (c Consumption) String() string {
	switch c {
	case Consumed:
		return "consumed"
	case DailyExhausted:
		return "daily"
	case MonthlyExhausted:
		return "monthly"
	default:
		return "unknown"
	}
}

// Ledger counts sends per provider per calendar day and month.
//
// TryConsume must be a single atomic check-and-increment: when it reports
// Consumed, both the daily and monthly counters were below their limits and
// both were incremented. Otherwise nothing was mutated. Counters are never
// decremented.
type Ledger interface {
	TryConsume(ctx context.Context, provider domain.Provider) (Consumption, error)
	Remaining(ctx context.Context, provider domain.Provider) (domain.QuotaRemaining, error)
}
