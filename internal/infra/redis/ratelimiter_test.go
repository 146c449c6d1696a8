package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiter_WindowPerSecond(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_760_000_000, 0)
	limiter, err := newRedisRateLimiter(newTestRedisClient(t), func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	resend := domain.Provider{ID: "resend", RatePerSec: 2}

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(t.Context(), resend)
		if err != nil {
			t.Fatalf("Allow() call %d error = %v", i, err)
		}
		if allowed != want {
			t.Fatalf("Allow() call %d = %v, want %v", i, allowed, want)
		}
	}

	now = now.Add(time.Second)
	if allowed, _ := limiter.Allow(t.Context(), resend); !allowed {
		t.Fatal("next second should open a fresh window")
	}
}

func TestRedisRateLimiter_ProvidersAreIndependent(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_760_000_100, 0)
	limiter, err := newRedisRateLimiter(newTestRedisClient(t), func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	resend := domain.Provider{ID: "resend", RatePerSec: 1}
	brevo := domain.Provider{ID: "brevo", RatePerSec: 1}

	if allowed, _ := limiter.Allow(t.Context(), resend); !allowed {
		t.Fatal("resend first send should be allowed")
	}
	if allowed, _ := limiter.Allow(t.Context(), brevo); !allowed {
		t.Fatal("brevo has its own window")
	}
	if allowed, _ := limiter.Allow(t.Context(), resend); allowed {
		t.Fatal("resend second send in the same second should be throttled")
	}
}

func TestRedisRateLimiter_ConcurrentCallersShareWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_760_000_200, 0)
	limiter, err := newRedisRateLimiter(newTestRedisClient(t), func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	p := domain.Provider{ID: "mailgun", RatePerSec: 5}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := limiter.Allow(context.Background(), p); err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 5 {
		t.Fatalf("granted = %d, want 5", got)
	}
}

func TestRedisRateLimiter_WaitSleepsToNextWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_760_000_300, 0).Add(700 * time.Millisecond)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(
		newTestRedisClient(t),
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	p := domain.Provider{ID: "postmark", RatePerSec: 1}

	if err := limiter.Wait(t.Context(), p); err != nil {
		t.Fatalf("Wait() first error = %v", err)
	}
	if err := limiter.Wait(t.Context(), p); err != nil {
		t.Fatalf("Wait() second error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 300*time.Millisecond {
		t.Fatalf("slept = %v, want [300ms]", slept)
	}
}

func TestRedisRateLimiter_WaitHonoursDeadline(t *testing.T) {
	t.Parallel()

	limiter, err := NewRedisRateLimiter(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	p := domain.Provider{ID: "resend", RatePerSec: 1}

	// Exhaust the current second, then wait with a deadline shorter than
	// any window boundary can be guaranteed to arrive.
	for {
		ok, err := limiter.Allow(t.Context(), p)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !ok {
			break
		}
	}

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, p); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want nil or deadline exceeded", err)
	}
}

func TestRedisRateLimiter_Unthrottled(t *testing.T) {
	t.Parallel()

	limiter, err := NewRedisRateLimiter(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		if allowed, err := limiter.Allow(t.Context(), domain.Provider{ID: "ses"}); err != nil || !allowed {
			t.Fatalf("Allow() call %d = %v, %v, want unthrottled", i, allowed, err)
		}
	}
	if _, err := limiter.Allow(t.Context(), domain.Provider{RatePerSec: 1}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Allow() error = %v, want ErrValidation for missing id", err)
	}
}

func TestUntilNextWindow(t *testing.T) {
	t.Parallel()

	base := time.Unix(1_760_000_400, 0)
	if got := untilNextWindow(base.Add(250 * time.Millisecond)); got != 750*time.Millisecond {
		t.Fatalf("untilNextWindow(+250ms) = %v, want 750ms", got)
	}
	if got := untilNextWindow(base.Add(999 * time.Millisecond)); got != minRateBackoff {
		t.Fatalf("untilNextWindow(+999ms) = %v, want %v", got, minRateBackoff)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
