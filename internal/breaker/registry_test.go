package breaker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	acquireFn       func(ctx context.Context, provider domain.ProviderID, now time.Time) (Permit, error)
	releaseProbeFn  func(ctx context.Context, provider domain.ProviderID) error
	recordFailureFn func(ctx context.Context, provider domain.ProviderID, now time.Time, errInfo string) (Transition, error)
	recordSuccessFn func(ctx context.Context, provider domain.ProviderID) (Transition, error)
	getFn           func(ctx context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error)
	resetFn         func(ctx context.Context, provider domain.ProviderID) (domain.CircuitState, error)
}

func (f *fakeStore) Acquire(ctx context.Context, provider domain.ProviderID, now time.Time) (Permit, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, provider, now)
	}
	return PermitClosed, nil
}

func (f *fakeStore) ReleaseProbe(ctx context.Context, provider domain.ProviderID) error {
	if f.releaseProbeFn != nil {
		return f.releaseProbeFn(ctx, provider)
	}
	return nil
}

func (f *fakeStore) RecordFailure(ctx context.Context, provider domain.ProviderID, now time.Time, errInfo string) (Transition, error) {
	if f.recordFailureFn != nil {
		return f.recordFailureFn(ctx, provider, now, errInfo)
	}
	return TransitionNone, nil
}

func (f *fakeStore) RecordSuccess(ctx context.Context, provider domain.ProviderID) (Transition, error) {
	if f.recordSuccessFn != nil {
		return f.recordSuccessFn(ctx, provider)
	}
	return TransitionNone, nil
}

func (f *fakeStore) Get(ctx context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error) {
	if f.getFn != nil {
		return f.getFn(ctx, provider)
	}
	return domain.BreakerSnapshot{Provider: provider, State: domain.CircuitClosed}, nil
}

func (f *fakeStore) Reset(ctx context.Context, provider domain.ProviderID) (domain.CircuitState, error) {
	if f.resetFn != nil {
		return f.resetFn(ctx, provider)
	}
	return domain.CircuitClosed, nil
}

type fakeEvents struct {
	events []domain.HealthEvent
	err    error
}

func (f *fakeEvents) Record(_ context.Context, event domain.HealthEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func TestRegistryRecordFailureOpenedEmitsEvent(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 5, 1, 10, 1, 0, 0, time.UTC)
	var gotErrInfo string
	store := &fakeStore{
		recordFailureFn: func(_ context.Context, _ domain.ProviderID, _ time.Time, errInfo string) (Transition, error) {
			gotErrInfo = errInfo
			return TransitionOpened, nil
		},
		getFn: func(_ context.Context, provider domain.ProviderID) (domain.BreakerSnapshot, error) {
			return domain.BreakerSnapshot{
				Provider:    provider,
				State:       domain.CircuitOpen,
				Failures:    5,
				LastError:   "503",
				NextRetryAt: &next,
			}, nil
		},
	}
	events := &fakeEvents{}

	registry, err := NewRegistry(store, events, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := registry.RecordFailure(context.Background(), "resend", "503"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if gotErrInfo != "503" {
		t.Fatalf("store errInfo = %q, want 503", gotErrInfo)
	}
	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}

	event := events.events[0]
	if event.Type != domain.EventCircuitOpened || event.Severity != domain.SeverityError {
		t.Fatalf("event = %+v, want circuit_opened/error", event)
	}
	if event.Provider == nil || *event.Provider != "resend" {
		t.Fatalf("event provider = %v, want resend", event.Provider)
	}
	if event.Metadata["failures"] != 5 || event.Metadata["reopened"] != false {
		t.Fatalf("event metadata = %v", event.Metadata)
	}
	if event.Metadata["nextRetryAt"] != "2026-05-01T10:01:00Z" {
		t.Fatalf("nextRetryAt = %v", event.Metadata["nextRetryAt"])
	}
}

func TestRegistryRecordFailureWithoutTransitionIsQuiet(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	registry, err := NewRegistry(&fakeStore{}, events, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := registry.RecordFailure(context.Background(), "brevo", "timeout"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("events = %d, want 0", len(events.events))
	}
}

func TestRegistryRecordFailureStoresValidErrorInfo(t *testing.T) {
	t.Parallel()

	var stored string
	store := &fakeStore{
		recordFailureFn: func(_ context.Context, _ domain.ProviderID, _ time.Time, errInfo string) (Transition, error) {
			stored = errInfo
			return TransitionNone, nil
		},
	}
	registry, err := NewRegistry(store, &fakeEvents{}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	errInfo := strings.Repeat("x", maxErrorInfoBytes-1) + "ñandú\x00"
	if err := registry.RecordFailure(context.Background(), "brevo", errInfo); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if !utf8.ValidString(stored) || len(stored) > maxErrorInfoBytes {
		t.Fatalf("stored errInfo = %q (%d bytes), want valid UTF-8 within %d bytes", stored, len(stored), maxErrorInfoBytes)
	}
	if strings.Contains(stored, "\x00") {
		t.Fatalf("stored errInfo contains NUL")
	}
}

func TestRegistryRecordSuccessClosedEmitsEvent(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	store := &fakeStore{
		recordSuccessFn: func(context.Context, domain.ProviderID) (Transition, error) {
			return TransitionClosed, nil
		},
	}
	registry, err := NewRegistry(store, events, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := registry.RecordSuccess(context.Background(), "brevo"); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventCircuitClosed {
		t.Fatalf("events = %+v, want one circuit_closed", events.events)
	}
}

func TestRegistryEventFailureDoesNotFailTransition(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	store := &fakeStore{
		recordSuccessFn: func(context.Context, domain.ProviderID) (Transition, error) {
			return TransitionClosed, nil
		},
	}
	registry, err := NewRegistry(store, &fakeEvents{err: errors.New("db down")}, zap.New(core))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := registry.RecordSuccess(context.Background(), "brevo"); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	if logs.FilterMessage("failed to record breaker event").Len() != 1 {
		t.Fatalf("expected event failure to be logged")
	}
}

func TestRegistryAcquirePassesClock(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var gotNow time.Time
	store := &fakeStore{
		acquireFn: func(_ context.Context, _ domain.ProviderID, now time.Time) (Permit, error) {
			gotNow = now
			return PermitProbe, nil
		},
	}
	registry, err := NewRegistry(store, &fakeEvents{}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	registry.now = func() time.Time { return fixed }

	permit, err := registry.Acquire(context.Background(), "mailgun")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if permit != PermitProbe || !permit.Allowed() {
		t.Fatalf("Acquire() = %v, want probe", permit)
	}
	if !gotNow.Equal(fixed) {
		t.Fatalf("store now = %v, want %v", gotNow, fixed)
	}
}

func TestRegistryResetRequiresActorAndAudits(t *testing.T) {
	t.Parallel()

	resetCalls := 0
	store := &fakeStore{
		resetFn: func(context.Context, domain.ProviderID) (domain.CircuitState, error) {
			resetCalls++
			return domain.CircuitOpen, nil
		},
	}
	events := &fakeEvents{}
	registry, err := NewRegistry(store, events, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	err = registry.Reset(context.Background(), "resend", "  ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Reset() error = %v, want %v", err, domain.ErrValidation)
	}
	if resetCalls != 0 {
		t.Fatalf("store reset called %d times without actor", resetCalls)
	}

	if err := registry.Reset(context.Background(), "resend", "ops@foodshare"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}
	event := events.events[0]
	if event.Type != domain.EventManualReset || event.Metadata["actor"] != "ops@foodshare" {
		t.Fatalf("event = %+v, want manual_reset by ops@foodshare", event)
	}
	if event.Metadata["previousState"] != "open" {
		t.Fatalf("previousState = %v, want open", event.Metadata["previousState"])
	}
}

func TestRegistryResetReportsAuditFailure(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry(&fakeStore{}, &fakeEvents{err: errors.New("insert failed")}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := registry.Reset(context.Background(), "resend", "ops"); err == nil {
		t.Fatal("Reset() error = nil, want audit failure")
	}
}

func TestSettingsNormalize(t *testing.T) {
	t.Parallel()

	got := Settings{FailureThreshold: 2}.Normalize()
	want := DefaultSettings()
	want.FailureThreshold = 2
	if got != want {
		t.Fatalf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(nil, &fakeEvents{}, nil); err == nil {
		t.Fatal("NewRegistry(nil store) error = nil")
	}
	if _, err := NewRegistry(&fakeStore{}, nil, nil); err == nil {
		t.Fatal("NewRegistry(nil events) error = nil")
	}
}
