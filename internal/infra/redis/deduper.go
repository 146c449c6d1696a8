package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Deduper claims one-shot keys so that a notification fires at most once per
// window across every dispatcher process.
type Deduper struct {
	client *goredis.Client
	prefix string
}

func NewDeduper(client *goredis.Client) (*Deduper, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Deduper{client: client, prefix: "dedupe:"}, nil
}

// Claim returns true for the first caller of key within ttl.
func (d *Deduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("dedupe key is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("dedupe ttl must be positive")
	}

	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedupe key %s: %w", key, err)
	}
	return ok, nil
}
