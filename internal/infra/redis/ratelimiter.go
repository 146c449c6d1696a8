package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// rateWindowTTL keeps a one-second window key alive slightly past its
	// second so clock skew between processes cannot reopen it.
	rateWindowTTL  = 2
	minRateBackoff = 5 * time.Millisecond
)

// KEYS[1] window counter, ARGV[1] limit, ARGV[2] ttl seconds.
// Returns 1 when the send fits in the window.
var rateWindowScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter counts sends per provider per wall-clock second in Redis.
type RedisRateLimiter struct {
	client *goredis.Client
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}
	return &RedisRateLimiter{client: client, now: nowFn, sleep: sleepFn}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, provider domain.Provider) (bool, error) {
	if provider.ID == "" {
		return false, fmt.Errorf("%w: provider id is required", domain.ErrValidation)
	}
	if provider.RatePerSec <= 0 {
		return true, nil
	}

	key := rateWindowKey(provider.ID, r.now())
	ok, err := rateWindowScript.Run(ctx, r.client, []string{key}, provider.RatePerSec, rateWindowTTL).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit for %s: %w", provider.ID, err)
	}
	return ok == 1, nil
}

// Wait blocks until provider has room in the current second, sleeping to the
// start of the next window between attempts.
func (r *RedisRateLimiter) Wait(ctx context.Context, provider domain.Provider) error {
	for {
		allowed, err := r.Allow(ctx, provider)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, untilNextWindow(r.now())); err != nil {
			return err
		}
	}
}

func rateWindowKey(provider domain.ProviderID, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", provider, now.UTC().Unix())
}

func untilNextWindow(now time.Time) time.Duration {
	d := now.Truncate(time.Second).Add(time.Second).Sub(now)
	if d < minRateBackoff {
		return minRateBackoff
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
