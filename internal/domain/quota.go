package domain

// Unlimited is reported by QuotaRemaining when a provider has no cap.
const Unlimited int64 = -1

// QuotaRemaining is the read-only view of a provider's sending allowance.
type QuotaRemaining struct {
	Provider     ProviderID
	DailySent    int64
	MonthlySent  int64
	DailyLimit   int64
	MonthlyLimit int64
	Daily        int64
	Monthly      int64
}

// Exhausted reports whether either window has no sends left.
func (q QuotaRemaining) Exhausted() bool {
	return q.Daily == 0 || q.Monthly == 0
}

// RemainingFor returns limit-sent clamped at zero, or Unlimited.
func RemainingFor(limit, sent int64) int64 {
	if limit <= 0 {
		return Unlimited
	}
	if sent >= limit {
		return 0
	}
	return limit - sent
}
