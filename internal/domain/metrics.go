package domain

import "time"

// ProviderMetrics aggregates one provider's outcomes for one calendar day.
type ProviderMetrics struct {
	Provider       ProviderID
	Day            time.Time
	TotalRequests  int64
	SuccessCount   int64
	FailureCount   int64
	TotalLatencyMs int64
}

func (m ProviderMetrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 1
	}
	return float64(m.SuccessCount) / float64(m.TotalRequests)
}

func (m ProviderMetrics) AverageLatency() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return time.Duration(m.TotalLatencyMs/m.TotalRequests) * time.Millisecond
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
