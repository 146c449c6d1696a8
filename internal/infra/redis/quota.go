package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/quota"
	goredis "github.com/redis/go-redis/v9"
)

const (
	dailyQuotaTTL   = 48 * time.Hour
	monthlyQuotaTTL = 32 * 24 * time.Hour
)

// Limits <= 0 are unlimited. Nothing is incremented unless both windows have room.
var consumeScript = goredis.NewScript(`
local daily = tonumber(redis.call("GET", KEYS[1]) or "0")
local monthly = tonumber(redis.call("GET", KEYS[2]) or "0")
local dailyLimit = tonumber(ARGV[1])
local monthlyLimit = tonumber(ARGV[2])
if dailyLimit > 0 and daily >= dailyLimit then
  return 2
end
if monthlyLimit > 0 and monthly >= monthlyLimit then
  return 3
end
redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
redis.call("INCR", KEYS[2])
redis.call("EXPIRE", KEYS[2], ARGV[4])
return 1
`)

var _ quota.Ledger = (*QuotaLedger)(nil)

// QuotaLedger keeps per-provider counters keyed by UTC calendar day and month.
type QuotaLedger struct {
	client *goredis.Client
	now    func() time.Time
	script *goredis.Script
}

func NewQuotaLedger(client *goredis.Client) (*QuotaLedger, error) {
	return newQuotaLedger(client, time.Now)
}

func newQuotaLedger(client *goredis.Client, nowFn func() time.Time) (*QuotaLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &QuotaLedger{client: client, now: nowFn, script: consumeScript}, nil
}

func (l *QuotaLedger) TryConsume(ctx context.Context, provider domain.Provider) (quota.Consumption, error) {
	dailyKey, monthlyKey := quotaKeys(provider.ID, l.now())

	result, err := l.script.Run(ctx, l.client,
		[]string{dailyKey, monthlyKey},
		provider.DailyLimit,
		provider.MonthlyLimit,
		int64(dailyQuotaTTL/time.Second),
		int64(monthlyQuotaTTL/time.Second),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to consume quota for %s: %w", provider.ID, err)
	}

	switch result {
	case 1:
		return quota.Consumed, nil
	case 2:
		return quota.DailyExhausted, nil
	case 3:
		return quota.MonthlyExhausted, nil
	default:
		return 0, fmt.Errorf("unexpected quota script result %d", result)
	}
}

func (l *QuotaLedger) Remaining(ctx context.Context, provider domain.Provider) (domain.QuotaRemaining, error) {
	dailyKey, monthlyKey := quotaKeys(provider.ID, l.now())

	values, err := l.client.MGet(ctx, dailyKey, monthlyKey).Result()
	if err != nil {
		return domain.QuotaRemaining{}, fmt.Errorf("failed to read quota for %s: %w", provider.ID, err)
	}

	daily, err := counterValue(values[0])
	if err != nil {
		return domain.QuotaRemaining{}, err
	}
	monthly, err := counterValue(values[1])
	if err != nil {
		return domain.QuotaRemaining{}, err
	}

	return domain.QuotaRemaining{
		Provider:     provider.ID,
		DailySent:    daily,
		MonthlySent:  monthly,
		DailyLimit:   provider.DailyLimit,
		MonthlyLimit: provider.MonthlyLimit,
		Daily:        domain.RemainingFor(provider.DailyLimit, daily),
		Monthly:      domain.RemainingFor(provider.MonthlyLimit, monthly),
	}, nil
}

func quotaKeys(provider domain.ProviderID, now time.Time) (string, string) {
	utc := now.UTC()
	return fmt.Sprintf("quota:%s:%s", provider, utc.Format("2006-01-02")),
		fmt.Sprintf("quota:%s:%s", provider, utc.Format("2006-01"))
}

func counterValue(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected quota counter type %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quota counter %q: %w", s, err)
	}
	return n, nil
}
