package breaker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"go.uber.org/zap"
)

const maxErrorInfoBytes = 512

// EventRecorder appends HealthEvents to the event log.
type EventRecorder interface {
	Record(ctx context.Context, event domain.HealthEvent) error
}

// Registry is the circuit breaker contract used by the dispatcher and the
// admin console. It owns no state itself: every transition goes through the
// Store atomically, and the Registry pairs transitions with event log writes.
type Registry struct {
	store   Store
	events  EventRecorder
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewRegistry(store Store, events EventRecorder, logger *zap.Logger) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("breaker store is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		store:  store,
		events: events,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *Registry) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Acquire asks permission to send through provider. An open breaker whose
// cool-down elapsed hands out exactly one probe; concurrent callers are denied
// until that probe's outcome is recorded or its lease runs out.
func (r *Registry) Acquire(ctx context.Context, provider domain.ProviderID) (Permit, error) {
	permit, err := r.store.Acquire(ctx, provider, r.now())
	if err != nil {
		return PermitDenied, fmt.Errorf("failed to acquire breaker permit for %s: %w", provider, err)
	}
	if permit == PermitProbe {
		r.logger.Info("circuit half-open probe granted", observability.ProviderField(provider))
		r.metrics.SetCircuitState(provider.String(), domain.CircuitHalfOpen.String())
	}
	return permit, nil
}

// ReleaseProbe gives back a probe permit that was never used for a send.
func (r *Registry) ReleaseProbe(ctx context.Context, provider domain.ProviderID) error {
	if err := r.store.ReleaseProbe(ctx, provider); err != nil {
		return fmt.Errorf("failed to release probe for %s: %w", provider, err)
	}
	return nil
}

func (r *Registry) RecordFailure(ctx context.Context, provider domain.ProviderID, errInfo string) error {
	transition, err := r.store.RecordFailure(ctx, provider, r.now(), domain.TruncateText(errInfo, maxErrorInfoBytes))
	if err != nil {
		return fmt.Errorf("failed to record breaker failure for %s: %w", provider, err)
	}
	if transition != TransitionOpened && transition != TransitionReopened {
		return nil
	}

	snapshot, err := r.store.Get(ctx, provider)
	if err != nil {
		r.logger.Warn("failed to read breaker after opening", observability.ProviderField(provider), zap.Error(err))
	}

	metadata := map[string]any{
		"failures":  snapshot.Failures,
		"lastError": snapshot.LastError,
		"reopened":  transition == TransitionReopened,
	}
	if snapshot.NextRetryAt != nil {
		metadata["nextRetryAt"] = snapshot.NextRetryAt.UTC().Format(time.RFC3339)
	}

	message := fmt.Sprintf("circuit opened for %s after %d consecutive failures", provider, snapshot.Failures)
	if transition == TransitionReopened {
		message = fmt.Sprintf("circuit re-opened for %s after failed half-open probe", provider)
	}

	r.metrics.SetCircuitState(provider.String(), domain.CircuitOpen.String())
	r.record(ctx, provider, domain.EventCircuitOpened, domain.SeverityError, message, metadata)
	return nil
}

func (r *Registry) RecordSuccess(ctx context.Context, provider domain.ProviderID) error {
	transition, err := r.store.RecordSuccess(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to record breaker success for %s: %w", provider, err)
	}
	if transition != TransitionClosed {
		return nil
	}

	r.metrics.SetCircuitState(provider.String(), domain.CircuitClosed.String())
	r.record(ctx, provider, domain.EventCircuitClosed, domain.SeverityInfo,
		fmt.Sprintf("circuit closed for %s after successful probes", provider), nil)
	return nil
}

func (r *Registry) State(ctx context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error) {
	snapshot, err := r.store.Get(ctx, provider)
	if err != nil {
		return domain.BreakerSnapshot{}, fmt.Errorf("failed to read breaker for %s: %w", provider, err)
	}
	return snapshot, nil
}

// Reset forces the breaker closed. It bypasses the automatic state machine,
// so it is always paired with a manual_reset event naming the actor.
func (r *Registry) Reset(ctx context.Context, provider domain.ProviderID, actor string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return fmt.Errorf("%w: actor is required for a manual reset", domain.ErrValidation)
	}

	previous, err := r.store.Reset(ctx, provider)
	if err != nil {
		return fmt.Errorf("failed to reset breaker for %s: %w", provider, err)
	}

	r.metrics.SetCircuitState(provider.String(), domain.CircuitClosed.String())

	p := provider
	event := domain.HealthEvent{
		Provider: &p,
		Type:     domain.EventManualReset,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("circuit for %s manually reset by %s", provider, actor),
		Metadata: map[string]any{
			"actor":         actor,
			"previousState": previous.String(),
		},
	}
	if err := r.events.Record(ctx, event); err != nil {
		r.logger.Error("manual reset applied but audit event failed",
			observability.ProviderField(provider),
			zap.String("actor", actor),
			zap.Error(err),
		)
		return fmt.Errorf("circuit reset but audit event failed: %w", err)
	}
	return nil
}

func (r *Registry) record(
	ctx context.Context,
	provider domain.ProviderID,
	eventType domain.EventType,
	severity domain.Severity,
	message string,
	metadata map[string]any,
) {
	p := provider
	err := r.events.Record(ctx, domain.HealthEvent{
		Provider: &p,
		Type:     eventType,
		Severity: severity,
		Message:  message,
		Metadata: metadata,
	})
	if err != nil {
		r.logger.Error("failed to record breaker event",
			observability.ProviderField(provider),
			zap.String("eventType", eventType.String()),
			zap.Error(err),
		)
	}
}
