// Package ratelimit throttles per-provider send throughput.
package ratelimit

import (
	"context"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

// RateLimiter enforces Provider.RatePerSec across every dispatcher process.
// A RatePerSec <= 0 means the provider is not throttled.
type RateLimiter interface {
	Allow(ctx context.Context, provider domain.Provider) (bool, error)
	Wait(ctx context.Context, provider domain.Provider) error
}
