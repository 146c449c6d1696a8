package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	// ProvidersSpec lists providers in priority order as
	// id|endpoint|dailyLimit|monthlyLimit|ratePerSec, comma separated.
	ProvidersSpec string `env:"PROVIDERS,required=true"`
	// ProviderAPIKeysSpec maps providers to credentials as id=key, comma
	// separated. Providers without an entry send unauthenticated.
	ProviderAPIKeysSpec string `env:"PROVIDER_API_KEYS"`
	AdminToken          string `env:"ADMIN_TOKEN"`
	APIPort       int    `env:"API_PORT,default=8080"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`

	DispatchWorkers   int           `env:"DISPATCH_WORKERS,default=2"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL,default=1m"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE,default=10"`
	WakePrefetch      int           `env:"WAKE_PREFETCH,default=10"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=10s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS,default=3"`
	RetryBackoffSpec  string        `env:"RETRY_BACKOFF,default=15m;30m;60m"`

	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerSuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD,default=3"`
	BreakerCooldown         time.Duration `env:"BREAKER_COOLDOWN,default=1m"`
	BreakerProbeLease       time.Duration `env:"BREAKER_PROBE_LEASE,default=30s"`

	StaleProcessingAfter   time.Duration `env:"STALE_PROCESSING_AFTER,default=1h"`
	CompletedRetention     time.Duration `env:"COMPLETED_RETENTION,default=168h"`
	EventRetention         time.Duration `env:"EVENT_RETENTION,default=720h"`
	ExhaustionAlertWindow  time.Duration `env:"EXHAUSTION_ALERT_WINDOW,default=15m"`
	HealthSnapshotInterval time.Duration `env:"HEALTH_SNAPSHOT_INTERVAL,default=5m"`
	MaintenanceInterval    time.Duration `env:"MAINTENANCE_INTERVAL,default=10m"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.Providers(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.ProviderAPIKeys(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.RetryBackoff(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Providers parses PROVIDERS. List order defines the static priority.
func (c *Config) Providers() ([]domain.Provider, error) {
	entries := strings.Split(c.ProvidersSpec, ",")
	providers := make([]domain.Provider, 0, len(entries))
	seen := make(map[domain.ProviderID]struct{}, len(entries))

	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, "|")
		if len(parts) != 5 {
			return nil, fmt.Errorf("%w: provider entry %q must be id|endpoint|daily|monthly|ratePerSec", domain.ErrValidation, entry)
		}

		id, err := domain.ParseProviderID(parts[0])
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %q", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}

		daily, err := parseInt(parts[2], "daily limit")
		if err != nil {
			return nil, err
		}
		monthly, err := parseInt(parts[3], "monthly limit")
		if err != nil {
			return nil, err
		}
		rate, err := parseInt(parts[4], "rate per second")
		if err != nil {
			return nil, err
		}

		p := domain.Provider{
			ID:           id,
			Endpoint:     strings.TrimSpace(parts[1]),
			DailyLimit:   daily,
			MonthlyLimit: monthly,
			RatePerSec:   int(rate),
			Priority:     i,
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: at least one provider is required", domain.ErrValidation)
	}
	return providers, nil
}

// ProviderAPIKeys parses PROVIDER_API_KEYS.
func (c *Config) ProviderAPIKeys() (map[domain.ProviderID]string, error) {
	keys := make(map[domain.ProviderID]string)
	for _, entry := range strings.Split(c.ProviderAPIKeysSpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		rawID, key, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: provider api key entry must be id=key", domain.ErrValidation)
		}
		id, err := domain.ParseProviderID(rawID)
		if err != nil {
			return nil, err
		}
		keys[id] = strings.TrimSpace(key)
	}
	return keys, nil
}

// RetryBackoff parses RETRY_BACKOFF, the attempt-indexed retry delays.
func (c *Config) RetryBackoff() ([]time.Duration, error) {
	raw := strings.FieldsFunc(c.RetryBackoffSpec, func(r rune) bool {
		return r == ';' || r == ','
	})
	delays := make([]time.Duration, 0, len(raw))
	for _, value := range raw {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid retry backoff %q", domain.ErrValidation, value)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%w: retry backoff must be positive", domain.ErrValidation)
		}
		delays = append(delays, d)
	}
	if len(delays) == 0 {
		return nil, fmt.Errorf("%w: retry backoff is empty", domain.ErrValidation)
	}
	return delays, nil
}

func parseInt(value string, field string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrValidation, field, value)
	}
	return n, nil
}
