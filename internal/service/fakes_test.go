package service

import (
	"context"
	"sync"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/breaker"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/provider"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/queue"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/quota"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
)

type fakeQueueRepo struct {
	enqueueFn          func(ctx context.Context, item *domain.QueueItem) error
	getByIDFn          func(ctx context.Context, id string) (*domain.QueueItem, error)
	claimBatchFn       func(ctx context.Context, limit int, now time.Time) ([]domain.QueueItem, error)
	completeFn         func(ctx context.Context, id string, deliveredBy domain.ProviderID, providerMessageID string, attempted []domain.ProviderID) error
	rescheduleFn       func(ctx context.Context, id string, nextRetryAt time.Time, outcome repository.Outcome) error
	releaseFn          func(ctx context.Context, id string, nextRetryAt time.Time, reason string) error
	moveToDeadLetterFn func(ctx context.Context, id string, dl *domain.DeadLetterItem, outcome repository.Outcome) error
	reclaimStaleFn     func(ctx context.Context, claimedBefore, now time.Time) (int64, error)
	supersedeFn        func(ctx context.Context, id string, note string) error
	purgeCompletedFn   func(ctx context.Context, before time.Time) (int64, error)
	countByStatusFn    func(ctx context.Context) (map[domain.QueueStatus]int64, error)
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, item)
	}
	return nil
}

func (f *fakeQueueRepo) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeQueueRepo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueItem, error) {
	if f.claimBatchFn != nil {
		return f.claimBatchFn(ctx, limit, now)
	}
	return nil, nil
}

func (f *fakeQueueRepo) Complete(ctx context.Context, id string, deliveredBy domain.ProviderID, providerMessageID string, attempted []domain.ProviderID) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, deliveredBy, providerMessageID, attempted)
	}
	return nil
}

func (f *fakeQueueRepo) Reschedule(ctx context.Context, id string, nextRetryAt time.Time, outcome repository.Outcome) error {
	if f.rescheduleFn != nil {
		return f.rescheduleFn(ctx, id, nextRetryAt, outcome)
	}
	return nil
}

func (f *fakeQueueRepo) Release(ctx context.Context, id string, nextRetryAt time.Time, reason string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, id, nextRetryAt, reason)
	}
	return nil
}

func (f *fakeQueueRepo) MoveToDeadLetter(ctx context.Context, id string, dl *domain.DeadLetterItem, outcome repository.Outcome) error {
	if f.moveToDeadLetterFn != nil {
		return f.moveToDeadLetterFn(ctx, id, dl, outcome)
	}
	return nil
}

func (f *fakeQueueRepo) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	if f.reclaimStaleFn != nil {
		return f.reclaimStaleFn(ctx, claimedBefore, now)
	}
	return 0, nil
}

func (f *fakeQueueRepo) Supersede(ctx context.Context, id string, note string) error {
	if f.supersedeFn != nil {
		return f.supersedeFn(ctx, id, note)
	}
	return nil
}

func (f *fakeQueueRepo) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	if f.purgeCompletedFn != nil {
		return f.purgeCompletedFn(ctx, before)
	}
	return 0, nil
}

func (f *fakeQueueRepo) CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error) {
	if f.countByStatusFn != nil {
		return f.countByStatusFn(ctx)
	}
	return map[domain.QueueStatus]int64{}, nil
}

type fakeDeadLetterRepo struct {
	listFn         func(ctx context.Context, filter repository.DeadLetterFilter) ([]domain.DeadLetterItem, error)
	getByIDFn      func(ctx context.Context, id string) (*domain.DeadLetterItem, error)
	requeueFn      func(ctx context.Context, id string, item *domain.QueueItem, actor string, at time.Time) error
	markReviewedFn func(ctx context.Context, id string, actor string, at time.Time) error
	deleteFn       func(ctx context.Context, id string) error
	countFn        func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeDeadLetterRepo) List(ctx context.Context, filter repository.DeadLetterFilter) ([]domain.DeadLetterItem, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeDeadLetterRepo) GetByID(ctx context.Context, id string) (*domain.DeadLetterItem, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDeadLetterRepo) Requeue(ctx context.Context, id string, item *domain.QueueItem, actor string, at time.Time) error {
	if f.requeueFn != nil {
		return f.requeueFn(ctx, id, item, actor, at)
	}
	return nil
}

func (f *fakeDeadLetterRepo) MarkReviewed(ctx context.Context, id string, actor string, at time.Time) error {
	if f.markReviewedFn != nil {
		return f.markReviewedFn(ctx, id, actor, at)
	}
	return nil
}

func (f *fakeDeadLetterRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakeDeadLetterRepo) CountUnreviewedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, cutoff)
	}
	return 0, nil
}

type fakeEventRepo struct {
	mu             sync.Mutex
	created        []domain.HealthEvent
	createErr      error
	recentFn       func(ctx context.Context, filter repository.EventFilter) ([]domain.HealthEvent, error)
	deleteBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeEventRepo) Create(ctx context.Context, event *domain.HealthEvent) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *event)
	return nil
}

func (f *fakeEventRepo) Recent(ctx context.Context, filter repository.EventFilter) ([]domain.HealthEvent, error) {
	if f.recentFn != nil {
		return f.recentFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteBeforeFn != nil {
		return f.deleteBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

// memDeduper grants each key once, ignoring the window.
type memDeduper struct {
	mu      sync.Mutex
	claimed map[string]time.Duration
	err     error
}

func (d *memDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed == nil {
		d.claimed = make(map[string]time.Duration)
	}
	if _, ok := d.claimed[key]; ok {
		return false, nil
	}
	d.claimed[key] = ttl
	return true, nil
}

// fakeEvents is an EventRecorder that keeps events in memory and honors
// RecordOnce keys.
type fakeEvents struct {
	mu     sync.Mutex
	events []domain.HealthEvent
	keys   map[string]time.Duration
	err    error
}

func (f *fakeEvents) Record(ctx context.Context, event domain.HealthEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) RecordOnce(ctx context.Context, key string, window time.Duration, event domain.HealthEvent) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	if f.keys == nil {
		f.keys = make(map[string]time.Duration)
	}
	if _, ok := f.keys[key]; ok {
		f.mu.Unlock()
		return false, nil
	}
	f.keys[key] = window
	f.mu.Unlock()
	return true, f.Record(ctx, event)
}

func (f *fakeEvents) ofType(eventType domain.EventType) []domain.HealthEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HealthEvent
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeMetricsRepo struct {
	recordFn func(ctx context.Context, provider domain.ProviderID, day time.Time, success bool, latency time.Duration) error
	forDayFn func(ctx context.Context, day time.Time) ([]domain.ProviderMetrics, error)
}

func (f *fakeMetricsRepo) Record(ctx context.Context, provider domain.ProviderID, day time.Time, success bool, latency time.Duration) error {
	if f.recordFn != nil {
		return f.recordFn(ctx, provider, day, success, latency)
	}
	return nil
}

func (f *fakeMetricsRepo) ForDay(ctx context.Context, day time.Time) ([]domain.ProviderMetrics, error) {
	if f.forDayFn != nil {
		return f.forDayFn(ctx, day)
	}
	return nil, nil
}

// staticBreakers serves fixed snapshots; unknown providers read as closed.
type staticBreakers map[domain.ProviderID]domain.BreakerSnapshot

func (s staticBreakers) State(ctx context.Context, id domain.ProviderID) (domain.BreakerSnapshot, error) {
	if snap, ok := s[id]; ok {
		return snap, nil
	}
	return domain.BreakerSnapshot{Provider: id, State: domain.CircuitClosed}, nil
}

// staticQuotas serves fixed remaining counts; unknown providers are unlimited.
type staticQuotas map[domain.ProviderID]domain.QuotaRemaining

func (s staticQuotas) Remaining(ctx context.Context, p domain.Provider) (domain.QuotaRemaining, error) {
	if q, ok := s[p.ID]; ok {
		return q, nil
	}
	return domain.QuotaRemaining{Provider: p.ID, Daily: domain.Unlimited, Monthly: domain.Unlimited}, nil
}

type fakeScores struct {
	scores map[domain.ProviderID]HealthScore
	err    error
}

func (f *fakeScores) Scores(ctx context.Context) (map[domain.ProviderID]HealthScore, error) {
	return f.scores, f.err
}

type fakeCandidates struct {
	evaluateFn func(ctx context.Context) ([]Candidate, error)
}

func (f *fakeCandidates) Evaluate(ctx context.Context) ([]Candidate, error) {
	if f.evaluateFn != nil {
		return f.evaluateFn(ctx)
	}
	return nil, nil
}

type fakeBreakerGate struct {
	mu        sync.Mutex
	acquireFn func(ctx context.Context, id domain.ProviderID) (breaker.Permit, error)
	failures  map[domain.ProviderID]int
	successes map[domain.ProviderID]int
	released  map[domain.ProviderID]int
}

func (f *fakeBreakerGate) Acquire(ctx context.Context, id domain.ProviderID) (breaker.Permit, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, id)
	}
	return breaker.PermitClosed, nil
}

func (f *fakeBreakerGate) ReleaseProbe(ctx context.Context, id domain.ProviderID) error {
	f.bump(&f.released, id)
	return nil
}

func (f *fakeBreakerGate) RecordFailure(ctx context.Context, id domain.ProviderID, errInfo string) error {
	f.bump(&f.failures, id)
	return nil
}

func (f *fakeBreakerGate) RecordSuccess(ctx context.Context, id domain.ProviderID) error {
	f.bump(&f.successes, id)
	return nil
}

func (f *fakeBreakerGate) bump(m *map[domain.ProviderID]int, id domain.ProviderID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *m == nil {
		*m = make(map[domain.ProviderID]int)
	}
	(*m)[id]++
}

func (f *fakeBreakerGate) count(m map[domain.ProviderID]int, id domain.ProviderID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[id]
}

type fakeLedger struct {
	mu           sync.Mutex
	tryConsumeFn func(ctx context.Context, p domain.Provider) (quota.Consumption, error)
	calls        map[domain.ProviderID]int
}

func (f *fakeLedger) TryConsume(ctx context.Context, p domain.Provider) (quota.Consumption, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[domain.ProviderID]int)
	}
	f.calls[p.ID]++
	f.mu.Unlock()

	if f.tryConsumeFn != nil {
		return f.tryConsumeFn(ctx, p)
	}
	return quota.Consumed, nil
}

func (f *fakeLedger) Remaining(ctx context.Context, p domain.Provider) (domain.QuotaRemaining, error) {
	return domain.QuotaRemaining{Provider: p.ID, Daily: domain.Unlimited, Monthly: domain.Unlimited}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, provider domain.Provider) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, provider domain.Provider) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, provider domain.Provider) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, provider)
	}
	return nil
}

type fakeOutcomes struct {
	mu      sync.Mutex
	records []outcomeRecord
}

type outcomeRecord struct {
	provider domain.ProviderID
	success  bool
}

func (f *fakeOutcomes) Record(ctx context.Context, id domain.ProviderID, success bool, latency time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, outcomeRecord{provider: id, success: success})
	return nil
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, msg provider.Message) (*provider.Result, error)
}

func (f *fakeTransport) Send(ctx context.Context, msg provider.Message) (*provider.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.Result{StatusCode: 202, MessageID: "msg-" + msg.ID}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.WakeMessage
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.WakeMessage) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}
