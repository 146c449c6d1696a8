package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestDeduperClaimOncePerWindow(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	deduper, err := NewDeduper(rdb)
	if err != nil {
		t.Fatalf("NewDeduper() error = %v", err)
	}

	ctx := context.Background()
	first, err := deduper.Claim(ctx, "all_providers_exhausted", 15*time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !first {
		t.Fatal("first Claim() = false, want true")
	}

	second, err := deduper.Claim(ctx, "all_providers_exhausted", 15*time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if second {
		t.Fatal("second Claim() = true, want false inside window")
	}

	mr.FastForward(16 * time.Minute)

	third, err := deduper.Claim(ctx, "all_providers_exhausted", 15*time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !third {
		t.Fatal("Claim() after window = false, want true")
	}
}

func TestDeduperConcurrentClaim(t *testing.T) {
	t.Parallel()

	deduper, err := NewDeduper(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewDeduper() error = %v", err)
	}

	var (
		winners atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := deduper.Claim(context.Background(), "quota_exhausted:brevo:2026-05-01", time.Hour)
			if err != nil {
				t.Errorf("Claim() error = %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("winners = %d, want 1", winners.Load())
	}
}

func TestDeduperRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	deduper, err := NewDeduper(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewDeduper() error = %v", err)
	}

	if _, err := deduper.Claim(context.Background(), "", time.Minute); err == nil {
		t.Fatal("Claim() with empty key error = nil, want error")
	}
	if _, err := deduper.Claim(context.Background(), "k", 0); err == nil {
		t.Fatal("Claim() with zero ttl error = nil, want error")
	}
}
