package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"go.uber.org/zap"
)

const defaultMaintenanceInterval = 10 * time.Minute

// StaleReclaimer returns long-stuck processing items to the queue and drops
// old completed rows.
type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error)
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}

type EventPruner interface {
	Record(ctx context.Context, event domain.HealthEvent) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

type HealthSnapshotter interface {
	Snapshot(ctx context.Context) (map[domain.ProviderID]HealthScore, error)
}

type UnreviewedReporter interface {
	ReportUnreviewed(ctx context.Context) (int64, error)
}

type MaintenanceConfig struct {
	Interval           time.Duration
	StaleAfter         time.Duration
	CompletedRetention time.Duration
	EventRetention     time.Duration
}

// Maintenance runs the periodic housekeeping jobs. Each job is independent;
// one failing does not skip the rest.
type Maintenance struct {
	queue       StaleReclaimer
	events      EventPruner
	health      HealthSnapshotter
	deadLetters UnreviewedReporter
	cfg         MaintenanceConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewMaintenance(
	queueRepo StaleReclaimer,
	events EventPruner,
	health HealthSnapshotter,
	deadLetters UnreviewedReporter,
	cfg MaintenanceConfig,
	logger *zap.Logger,
) (*Maintenance, error) {
	switch {
	case queueRepo == nil:
		return nil, fmt.Errorf("queue repository is required")
	case events == nil:
		return nil, fmt.Errorf("event log is required")
	case health == nil:
		return nil, fmt.Errorf("health monitor is required")
	case deadLetters == nil:
		return nil, fmt.Errorf("dead letter reporter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMaintenanceInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Maintenance{
		queue:       queueRepo,
		events:      events,
		health:      health,
		deadLetters: deadLetters,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (m *Maintenance) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.RunOnce(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job a single time.
func (m *Maintenance) RunOnce(ctx context.Context) {
	jobs := []struct {
		name string
		run  func(context.Context) error
	}{
		{"reclaim_stale", m.reclaimStale},
		{"purge_completed", m.purgeCompleted},
		{"prune_events", m.pruneEvents},
		{"health_snapshot", m.snapshotHealth},
		{"unreviewed_dead_letters", m.reportUnreviewed},
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job.run(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("maintenance job failed", zap.String("job", job.name), zap.Error(err))
		}
	}
}

func (m *Maintenance) reclaimStale(ctx context.Context) error {
	now := m.now()
	cutoff := now.Add(-m.cfg.StaleAfter)

	n, err := m.queue.ReclaimStale(ctx, cutoff, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	return m.events.Record(ctx, domain.HealthEvent{
		Type:     domain.EventStaleClaimsReclaimed,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%d items stuck in processing returned to the queue", n),
		Metadata: map[string]any{
			"count":         n,
			"claimedBefore": cutoff.UTC().Format(time.RFC3339),
		},
	})
}

func (m *Maintenance) purgeCompleted(ctx context.Context) error {
	if m.cfg.CompletedRetention <= 0 {
		return nil
	}
	n, err := m.queue.PurgeCompleted(ctx, m.now().Add(-m.cfg.CompletedRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("purged completed queue items", zap.Int64("count", n))
	}
	return nil
}

func (m *Maintenance) pruneEvents(ctx context.Context) error {
	if m.cfg.EventRetention <= 0 {
		return nil
	}
	n, err := m.events.Prune(ctx, m.cfg.EventRetention)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("pruned health events", zap.Int64("count", n))
	}
	return nil
}

func (m *Maintenance) snapshotHealth(ctx context.Context) error {
	_, err := m.health.Snapshot(ctx)
	return err
}

func (m *Maintenance) reportUnreviewed(ctx context.Context) error {
	_, err := m.deadLetters.ReportUnreviewed(ctx)
	return err
}
