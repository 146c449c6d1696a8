package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/breaker"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Breaker rows are hashes with the fields state, failures, successes,
// last_failure_ms, last_error, next_retry_ms and probe_until_ms.
// Absent rows read as closed.

var acquireScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state or state == "closed" then
  return 1
end
local now = tonumber(ARGV[1])
local lease = tonumber(ARGV[2])
if state == "open" then
  local nextRetry = tonumber(redis.call("HGET", KEYS[1], "next_retry_ms") or "0")
  if now < nextRetry then
    return 0
  end
  redis.call("HSET", KEYS[1], "state", "half_open", "successes", "0", "probe_until_ms", tostring(now + lease))
  redis.call("HDEL", KEYS[1], "next_retry_ms")
  return 2
end
local probeUntil = tonumber(redis.call("HGET", KEYS[1], "probe_until_ms") or "0")
if now < probeUntil then
  return 0
end
redis.call("HSET", KEYS[1], "probe_until_ms", tostring(now + lease))
return 2
`)

var releaseProbeScript = goredis.NewScript(`
if redis.call("HGET", KEYS[1], "state") == "half_open" then
  redis.call("HDEL", KEYS[1], "probe_until_ms")
end
return 1
`)

var recordFailureScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state") or "closed"
local now = tonumber(ARGV[1])
local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
redis.call("HSET", KEYS[1], "last_failure_ms", ARGV[1], "last_error", ARGV[4], "successes", "0")
if state == "half_open" then
  redis.call("HSET", KEYS[1], "state", "open", "next_retry_ms", tostring(now + tonumber(ARGV[3])))
  redis.call("HDEL", KEYS[1], "probe_until_ms")
  return 2
end
if state == "open" then
  return 0
end
if failures >= tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "state", "open", "next_retry_ms", tostring(now + tonumber(ARGV[3])))
  return 1
end
redis.call("HSET", KEYS[1], "state", "closed")
return 0
`)

var recordSuccessScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state") or "closed"
if state == "half_open" then
  local successes = redis.call("HINCRBY", KEYS[1], "successes", 1)
  if successes >= tonumber(ARGV[1]) then
    redis.call("HSET", KEYS[1], "state", "closed", "failures", "0", "successes", "0")
    redis.call("HDEL", KEYS[1], "next_retry_ms", "probe_until_ms")
    return 1
  end
  redis.call("HDEL", KEYS[1], "probe_until_ms")
  return 0
end
if state == "open" then
  return 0
end
redis.call("HSET", KEYS[1], "state", "closed", "failures", "0")
return 0
`)

var resetScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state") or "closed"
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "state", "closed", "failures", "0", "successes", "0")
return state
`)

var _ breaker.Store = (*BreakerStore)(nil)

type BreakerStore struct {
	client   *goredis.Client
	settings breaker.Settings
}

func NewBreakerStore(client *goredis.Client, settings breaker.Settings) (*BreakerStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &BreakerStore{client: client, settings: settings.Normalize()}, nil
}

func (s *BreakerStore) Acquire(ctx context.Context, provider domain.ProviderID, now time.Time) (breaker.Permit, error) {
	result, err := acquireScript.Run(ctx, s.client, []string{breakerKey(provider)},
		now.UnixMilli(),
		s.settings.ProbeLease.Milliseconds(),
	).Int()
	if err != nil {
		return breaker.PermitDenied, err
	}

	switch result {
	case 1:
		return breaker.PermitClosed, nil
	case 2:
		return breaker.PermitProbe, nil
	default:
		return breaker.PermitDenied, nil
	}
}

func (s *BreakerStore) ReleaseProbe(ctx context.Context, provider domain.ProviderID) error {
	return releaseProbeScript.Run(ctx, s.client, []string{breakerKey(provider)}).Err()
}

func (s *BreakerStore) RecordFailure(
	ctx context.Context,
	provider domain.ProviderID,
	now time.Time,
	errInfo string,
) (breaker.Transition, error) {
	result, err := recordFailureScript.Run(ctx, s.client, []string{breakerKey(provider)},
		now.UnixMilli(),
		s.settings.FailureThreshold,
		s.settings.Cooldown.Milliseconds(),
		errInfo,
	).Int()
	if err != nil {
		return breaker.TransitionNone, err
	}

	switch result {
	case 1:
		return breaker.TransitionOpened, nil
	case 2:
		return breaker.TransitionReopened, nil
	default:
		return breaker.TransitionNone, nil
	}
}

func (s *BreakerStore) RecordSuccess(ctx context.Context, provider domain.ProviderID) (breaker.Transition, error) {
	result, err := recordSuccessScript.Run(ctx, s.client, []string{breakerKey(provider)},
		s.settings.SuccessThreshold,
	).Int()
	if err != nil {
		return breaker.TransitionNone, err
	}
	if result == 1 {
		return breaker.TransitionClosed, nil
	}
	return breaker.TransitionNone, nil
}

func (s *BreakerStore) Get(ctx context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error) {
	fields, err := s.client.HGetAll(ctx, breakerKey(provider)).Result()
	if err != nil {
		return domain.BreakerSnapshot{}, err
	}
	return snapshotFromHash(provider, fields)
}

func (s *BreakerStore) Reset(ctx context.Context, provider domain.ProviderID) (domain.CircuitState, error) {
	previous, err := resetScript.Run(ctx, s.client, []string{breakerKey(provider)}).Text()
	if err != nil {
		return "", err
	}
	return domain.ParseCircuitState(previous)
}

func breakerKey(provider domain.ProviderID) string {
	return "breaker:" + provider.String()
}

func snapshotFromHash(provider domain.ProviderID, fields map[string]string) (domain.BreakerSnapshot, error) {
	state, err := domain.ParseCircuitState(fields["state"])
	if err != nil {
		return domain.BreakerSnapshot{}, err
	}

	snapshot := domain.BreakerSnapshot{
		Provider:  provider,
		State:     state,
		LastError: fields["last_error"],
	}

	if snapshot.Failures, err = intField(fields, "failures"); err != nil {
		return domain.BreakerSnapshot{}, err
	}
	if snapshot.ConsecutiveSuccesses, err = intField(fields, "successes"); err != nil {
		return domain.BreakerSnapshot{}, err
	}
	if snapshot.LastFailureAt, err = timeField(fields, "last_failure_ms"); err != nil {
		return domain.BreakerSnapshot{}, err
	}
	if state == domain.CircuitOpen {
		if snapshot.NextRetryAt, err = timeField(fields, "next_retry_ms"); err != nil {
			return domain.BreakerSnapshot{}, err
		}
	}

	return snapshot, nil
}

func intField(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid breaker field %s=%q: %w", name, raw, err)
	}
	return n, nil
}

func timeField(fields map[string]string, name string) (*time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid breaker field %s=%q: %w", name, raw, err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}
