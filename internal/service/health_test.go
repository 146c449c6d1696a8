package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
)

func TestComputeScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		metrics domain.ProviderMetrics
		state   domain.CircuitState
		want    float64
	}{
		{
			name:  "no traffic",
			state: domain.CircuitClosed,
			want:  100,
		},
		{
			name:    "perfect and fast",
			metrics: domain.ProviderMetrics{TotalRequests: 10, SuccessCount: 10, TotalLatencyMs: 2000},
			state:   domain.CircuitClosed,
			want:    100,
		},
		{
			name:    "half failing and fast",
			metrics: domain.ProviderMetrics{TotalRequests: 10, SuccessCount: 5, FailureCount: 5, TotalLatencyMs: 5000},
			state:   domain.CircuitClosed,
			want:    65,
		},
		{
			name:    "all succeed but slow",
			metrics: domain.ProviderMetrics{TotalRequests: 2, SuccessCount: 2, TotalLatencyMs: 24000},
			state:   domain.CircuitClosed,
			want:    70,
		},
		{
			name:    "latency midway",
			metrics: domain.ProviderMetrics{TotalRequests: 1, SuccessCount: 1, TotalLatencyMs: 5250},
			state:   domain.CircuitHalfOpen,
			want:    85,
		},
		{
			name:    "open circuit",
			metrics: domain.ProviderMetrics{TotalRequests: 10, SuccessCount: 10, TotalLatencyMs: 100},
			state:   domain.CircuitOpen,
			want:    0,
		},
		{
			name:    "two decimals",
			metrics: domain.ProviderMetrics{TotalRequests: 3, SuccessCount: 2, FailureCount: 1, TotalLatencyMs: 300},
			state:   domain.CircuitClosed,
			want:    76.67,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ComputeScore(tt.metrics, tt.state); got != tt.want {
				t.Fatalf("ComputeScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthMonitorSnapshot(t *testing.T) {
	t.Parallel()

	retryAt := dispatchNow.Add(time.Minute)
	forDayCalls := 0
	repo := &fakeMetricsRepo{
		forDayFn: func(ctx context.Context, day time.Time) ([]domain.ProviderMetrics, error) {
			forDayCalls++
			return []domain.ProviderMetrics{
				{Provider: providerA.ID, TotalRequests: 4, SuccessCount: 3, FailureCount: 1, TotalLatencyMs: 800},
			}, nil
		},
	}
	breakers := staticBreakers{
		providerB.ID: {Provider: providerB.ID, State: domain.CircuitOpen, NextRetryAt: &retryAt},
	}

	monitor, err := NewHealthMonitor(repo, breakers, []domain.Provider{providerA, providerB}, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewHealthMonitor() error = %v", err)
	}
	now := dispatchNow
	monitor.now = func() time.Time { return now }

	scores, err := monitor.Scores(context.Background())
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}

	a := scores[providerA.ID]
	if a.Score != 82.5 || a.SuccessRate != 0.75 || a.TotalRequests != 4 {
		t.Fatalf("alpha = %+v, want score 82.5 at 75%% success", a)
	}
	if a.AverageLatency != 200*time.Millisecond {
		t.Fatalf("alpha latency = %s, want 200ms", a.AverageLatency)
	}
	if b := scores[providerB.ID]; b.Score != 0 || b.State != domain.CircuitOpen {
		t.Fatalf("beta = %+v, want open with score 0", b)
	}

	if _, err := monitor.Scores(context.Background()); err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if forDayCalls != 1 {
		t.Fatalf("ForDay calls = %d, want 1 while cache is fresh", forDayCalls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := monitor.Scores(context.Background()); err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	if forDayCalls != 2 {
		t.Fatalf("ForDay calls = %d, want 2 after cache expiry", forDayCalls)
	}
}

func TestHealthMonitorRecordUsesToday(t *testing.T) {
	t.Parallel()

	var gotDay time.Time
	var gotSuccess bool
	repo := &fakeMetricsRepo{
		recordFn: func(ctx context.Context, provider domain.ProviderID, day time.Time, success bool, latency time.Duration) error {
			gotDay, gotSuccess = day, success
			return nil
		},
	}
	monitor, err := NewHealthMonitor(repo, staticBreakers{}, []domain.Provider{providerA}, 0, nil)
	if err != nil {
		t.Fatalf("NewHealthMonitor() error = %v", err)
	}
	monitor.now = func() time.Time { return dispatchNow }

	if err := monitor.Record(context.Background(), providerA.ID, true, 120*time.Millisecond); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !gotDay.Equal(dispatchNow) || !gotSuccess {
		t.Fatalf("Record() passed day=%s success=%v", gotDay, gotSuccess)
	}

	repo.recordFn = func(ctx context.Context, provider domain.ProviderID, day time.Time, success bool, latency time.Duration) error {
		return errors.New("write failed")
	}
	if err := monitor.Record(context.Background(), providerA.ID, false, 0); err == nil {
		t.Fatal("expected Record() error")
	}
}
