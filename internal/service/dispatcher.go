package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Foodshareclub/foodshare-web-sub000/internal/breaker"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/domain"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/observability"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/provider"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/queue"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/quota"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/ratelimit"
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minDispatchWorkers    = 1
	defaultDispatchBatch  = 10
	defaultDispatchTick   = time.Minute
	defaultSendTimeout    = 10 * time.Second
	defaultExhaustWindow  = 15 * time.Minute
	bookkeepingTimeout    = 5 * time.Second
	completeWriteAttempts = 3
	maxStoredErrorLength  = 1024
	quotaEventKeyTTL      = 25 * time.Hour
	allExhaustedEventKey  = "all_providers_exhausted"
	noViableProviderError = "no viable provider: every provider permanently rejected this message"
)

var defaultBackoff = []time.Duration{15 * time.Minute, 30 * time.Minute, 60 * time.Minute}

// CandidateSource evaluates every configured provider for dispatch.
type CandidateSource interface {
	Evaluate(ctx context.Context) ([]Candidate, error)
}

// BreakerGate is the dispatcher's view of the circuit breaker registry.
type BreakerGate interface {
	Acquire(ctx context.Context, provider domain.ProviderID) (breaker.Permit, error)
	ReleaseProbe(ctx context.Context, provider domain.ProviderID) error
	RecordFailure(ctx context.Context, provider domain.ProviderID, errInfo string) error
	RecordSuccess(ctx context.Context, provider domain.ProviderID) error
}

// OutcomeRecorder accumulates send outcomes for health scoring.
type OutcomeRecorder interface {
	Record(ctx context.Context, provider domain.ProviderID, success bool, latency time.Duration) error
}

// EventRecorder writes to the event log.
type EventRecorder interface {
	Record(ctx context.Context, event domain.HealthEvent) error
	RecordOnce(ctx context.Context, key string, window time.Duration, event domain.HealthEvent) (bool, error)
}

type DispatcherConfig struct {
	Workers               int
	BatchSize             int
	Interval              time.Duration
	SendTimeout           time.Duration
	Backoff               []time.Duration
	ExhaustionAlertWindow time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers < minDispatchWorkers {
		c.Workers = minDispatchWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultDispatchBatch
	}
	if c.Interval <= 0 {
		c.Interval = defaultDispatchTick
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if len(c.Backoff) == 0 {
		c.Backoff = defaultBackoff
	}
	if c.ExhaustionAlertWindow <= 0 {
		c.ExhaustionAlertWindow = defaultExhaustWindow
	}
	return c
}

type DispatcherDeps struct {
	Queue       repository.QueueRepository
	Providers   *provider.Set
	Candidates  CandidateSource
	Breakers    BreakerGate
	Quotas      quota.Ledger
	RateLimiter ratelimit.RateLimiter
	Health      OutcomeRecorder
	Events      EventRecorder
}

// CycleReport summarizes one dispatcher cycle.
type CycleReport struct {
	Claimed      int  `json:"claimed"`
	Completed    int  `json:"completed"`
	Rescheduled  int  `json:"rescheduled"`
	DeadLettered int  `json:"deadLettered"`
	Released     int  `json:"released"`
	Errors       int  `json:"errors"`
	AllExhausted bool `json:"allExhausted"`
}

type Dispatcher struct {
	queue       repository.QueueRepository
	providers   *provider.Set
	candidates  CandidateSource
	breakers    BreakerGate
	quotas      quota.Ledger
	rateLimiter ratelimit.RateLimiter
	health      OutcomeRecorder
	events      EventRecorder
	cfg         DispatcherConfig
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	wake        chan struct{}
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	switch {
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue repository is required")
	case deps.Providers == nil:
		return nil, fmt.Errorf("provider set is required")
	case deps.Candidates == nil:
		return nil, fmt.Errorf("candidate source is required")
	case deps.Breakers == nil:
		return nil, fmt.Errorf("breaker registry is required")
	case deps.Quotas == nil:
		return nil, fmt.Errorf("quota ledger is required")
	case deps.RateLimiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case deps.Health == nil:
		return nil, fmt.Errorf("health recorder is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("event recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	return &Dispatcher{
		queue:       deps.Queue,
		providers:   deps.Providers,
		candidates:  deps.Candidates,
		breakers:    deps.Breakers,
		quotas:      deps.Quotas,
		rateLimiter: deps.RateLimiter,
		health:      deps.Health,
		events:      deps.Events,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		wake:        make(chan struct{}, cfg.Workers),
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Start runs the configured number of workers until ctx is canceled. Each
// worker runs a cycle immediately, then on every tick or wake-up.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		group.Go(func() error {
			return d.runWorker(groupCtx, worker)
		})
	}
	return group.Wait()
}

// Wake asks an idle worker to run a cycle now. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// HandleWake adapts Wake to the wake-queue consumer.
func (d *Dispatcher) HandleWake(_ context.Context, _ queue.WakeMessage) error {
	d.Wake()
	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context, worker int) error {
	logger := d.logger.With(zap.Int("worker", worker))

	d.runLoggedCycle(ctx, logger)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
		d.runLoggedCycle(ctx, logger)
	}
}

func (d *Dispatcher) runLoggedCycle(ctx context.Context, logger *zap.Logger) {
	report, err := d.RunCycle(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("dispatch cycle failed", zap.Error(err))
		}
		return
	}
	if report.Claimed > 0 {
		logger.Info("dispatch cycle finished",
			zap.Int("claimed", report.Claimed),
			zap.Int("completed", report.Completed),
			zap.Int("rescheduled", report.Rescheduled),
			zap.Int("deadLettered", report.DeadLettered),
			zap.Int("released", report.Released),
			zap.Int("errors", report.Errors),
		)
	}
}

// cycleState is shared by every item of one cycle.
type cycleState struct {
	candidates []Candidate
	// probed caps half-open probes to one per provider per cycle.
	probed map[domain.ProviderID]bool
	// unavailable holds providers found closed to traffic mid-cycle.
	unavailable map[domain.ProviderID]Exclusion
}

func (c *cycleState) allUnavailable() bool {
	for _, candidate := range c.candidates {
		if candidate.Eligible() && c.unavailable[candidate.Provider.ID] == ExclusionNone {
			return false
		}
	}
	return true
}

// RunCycle claims one batch and attempts delivery of each item. Per-item
// failures are logged and counted, never returned.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleReport, error) {
	started := d.now()
	defer func() {
		d.metrics.ObserveCycleDuration(d.now().Sub(started))
	}()

	var report CycleReport

	evaluated, err := d.candidates.Evaluate(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to rank providers: %w", err)
	}

	cycle := &cycleState{
		candidates:  make([]Candidate, 0, len(evaluated)),
		probed:      make(map[domain.ProviderID]bool),
		unavailable: make(map[domain.ProviderID]Exclusion),
	}
	for _, c := range evaluated {
		if c.Excluded == ExclusionQuotaExhausted {
			d.reportQuotaExhausted(ctx, c.Provider, windowFromRemaining(c.Quota))
		}
		if c.Eligible() {
			cycle.candidates = append(cycle.candidates, c)
		}
	}

	// Nothing can be sent: leave items queued without charging attempts.
	if len(cycle.candidates) == 0 {
		report.AllExhausted = true
		d.reportAllExhausted(ctx, evaluated)
		return report, nil
	}

	items, err := d.queue.ClaimBatch(ctx, d.cfg.BatchSize, d.now())
	if err != nil {
		return report, fmt.Errorf("failed to claim batch: %w", err)
	}
	report.Claimed = len(items)
	d.metrics.AddItemsClaimed(len(items))

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		d.processItem(ctx, &items[i], cycle, &report)
	}

	if report.Released > 0 && cycle.allUnavailable() {
		report.AllExhausted = true
		d.reportAllExhausted(ctx, evaluated)
	}

	return report, nil
}

type itemOutcome struct {
	attempted []domain.ProviderID
	rejected  []domain.ProviderID
	lastError string
	tried     bool
}

func (d *Dispatcher) processItem(ctx context.Context, item *domain.QueueItem, cycle *cycleState, report *CycleReport) {
	logger := observability.ItemLogger(d.logger, ctx, item)

	defer func() {
		if r := recover(); r != nil {
			report.Errors++
			logger.Error("panic while dispatching item", zap.Any("panic", r))
		}
	}()

	outcome := itemOutcome{
		attempted: slices.Clone(item.AttemptedProviders),
		rejected:  slices.Clone(item.RejectedProviders),
	}

	for _, candidate := range cycle.candidates {
		if ctx.Err() != nil {
			break
		}
		delivered := d.tryCandidate(ctx, logger, item, candidate, cycle, &outcome)
		if delivered {
			report.Completed++
			return
		}
	}

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if !outcome.tried && ctx.Err() != nil {
		d.release(bookCtx, logger, item, "dispatch interrupted", report)
		return
	}
	if !outcome.tried && !d.everyProviderRejected(outcome.rejected) {
		d.release(bookCtx, logger, item, "no provider available", report)
		return
	}
	if !outcome.tried {
		outcome.lastError = noViableProviderError
	}

	if item.Exhausted() {
		d.deadLetter(bookCtx, logger, item, outcome, report)
		return
	}
	d.reschedule(bookCtx, logger, item, outcome, report)
}

// tryCandidate runs one provider attempt. It returns true once the item is
// delivered and persisted as completed.
func (d *Dispatcher) tryCandidate(
	ctx context.Context,
	logger *zap.Logger,
	item *domain.QueueItem,
	candidate Candidate,
	cycle *cycleState,
	outcome *itemOutcome,
) bool {
	p := candidate.Provider
	id := p.ID

	if slices.Contains(outcome.rejected, id) {
		return false
	}
	if cycle.unavailable[id] != ExclusionNone {
		return false
	}
	if candidate.Probe && cycle.probed[id] {
		return false
	}

	permit, err := d.breakers.Acquire(ctx, id)
	if err != nil {
		logger.Error("breaker acquire failed", observability.ProviderField(id), zap.Error(err))
		return false
	}
	if !permit.Allowed() {
		if candidate.Probe {
			cycle.probed[id] = true
		} else {
			cycle.unavailable[id] = ExclusionCircuitOpen
		}
		return false
	}
	probe := permit == breaker.PermitProbe
	if probe {
		cycle.probed[id] = true
	}

	consumption, err := d.quotas.TryConsume(ctx, p)
	if err != nil || !consumption.OK() {
		if probe {
			d.releaseProbe(ctx, logger, id)
		}
		if err != nil {
			logger.Error("quota consume failed", observability.ProviderField(id), zap.Error(err))
			return false
		}
		cycle.unavailable[id] = ExclusionQuotaExhausted
		d.metrics.IncQuotaRejected(id.String(), consumption.String())
		d.reportQuotaExhausted(ctx, p, consumption.String())
		return false
	}

	if err := d.rateLimiter.Wait(ctx, p); err != nil {
		// The quota slot stays spent; sends are never refunded.
		if probe {
			d.releaseProbe(ctx, logger, id)
		}
		logger.Warn("rate limiter wait aborted", observability.ProviderField(id), zap.Error(err))
		return false
	}

	outcome.tried = true
	outcome.attempted = append(outcome.attempted, id)

	result, latency, sendErr := d.send(ctx, p, item)
	if sendErr == nil {
		return d.complete(ctx, logger, item, id, result, latency, outcome)
	}

	outcome.lastError = truncateError(fmt.Sprintf("%s: %v", id, sendErr))
	d.recordHealth(ctx, logger, id, false, latency)

	if provider.IsPermanent(sendErr) {
		// A rejection of this message says nothing about provider health.
		outcome.rejected = append(outcome.rejected, id)
		if probe {
			d.releaseProbe(ctx, logger, id)
		}
		logger.Warn("provider permanently rejected message",
			observability.ProviderField(id),
			zap.Error(sendErr),
		)
		return false
	}

	if err := d.breakers.RecordFailure(ctx, id, sendErr.Error()); err != nil {
		logger.Error("failed to record breaker failure", observability.ProviderField(id), zap.Error(err))
	}
	logger.Warn("provider send failed",
		observability.ProviderField(id),
		zap.Bool("probe", probe),
		zap.Duration("latency", latency),
		zap.Error(sendErr),
	)
	return false
}

func (d *Dispatcher) send(ctx context.Context, p domain.Provider, item *domain.QueueItem) (*provider.Result, time.Duration, error) {
	transport, ok := d.providers.Transport(p.ID)
	if !ok {
		return nil, 0, &provider.ProviderError{Kind: provider.KindTransient, Message: "no transport configured"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	d.metrics.IncProviderInFlight(p.ID.String())
	defer d.metrics.DecProviderInFlight(p.ID.String())

	started := d.now()
	result, err := transport.Send(sendCtx, provider.MessageFromQueueItem(item))
	latency := d.now().Sub(started)

	outcome := "success"
	if err != nil {
		outcome = string(provider.Classify(err))
	}
	d.metrics.ObserveProviderSend(p.ID.String(), outcome, latency)

	return result, latency, err
}

func (d *Dispatcher) complete(
	ctx context.Context,
	logger *zap.Logger,
	item *domain.QueueItem,
	id domain.ProviderID,
	result *provider.Result,
	latency time.Duration,
	outcome *itemOutcome,
) bool {
	if err := d.breakers.RecordSuccess(ctx, id); err != nil {
		logger.Error("failed to record breaker success", observability.ProviderField(id), zap.Error(err))
	}
	d.recordHealth(ctx, logger, id, true, latency)

	messageID := ""
	if result != nil {
		messageID = result.MessageID
	}

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	// The message is out; a failed status write must not trigger another send
	// in this cycle. If the write never lands, the stale-claim sweep will
	// requeue the item, so the event log carries what is needed to reconcile.
	if err := d.markCompleted(bookCtx, item, id, messageID, outcome.attempted); err != nil {
		logger.Error("delivered but failed to mark completed",
			observability.ProviderField(id),
			zap.String("providerMessageId", messageID),
			zap.Error(err),
		)
		d.reportUnconfirmed(bookCtx, logger, item, id, messageID, err)
	}

	d.metrics.IncItemCompleted(item.Category.String())
	logger.Info("message delivered",
		observability.ProviderField(id),
		zap.String("providerMessageId", messageID),
		zap.Duration("latency", latency),
	)
	return true
}

func (d *Dispatcher) markCompleted(ctx context.Context, item *domain.QueueItem, id domain.ProviderID, messageID string, attempted []domain.ProviderID) error {
	var err error
	for range completeWriteAttempts {
		if err = d.queue.Complete(ctx, item.ID, id, messageID, attempted); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return err
}

func (d *Dispatcher) reportUnconfirmed(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, id domain.ProviderID, messageID string, cause error) {
	err := d.events.Record(ctx, domain.HealthEvent{
		Provider: &id,
		Type:     domain.EventDeliveryUnconfirmed,
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("message %s was delivered by %s but could not be marked completed", item.ID, id),
		Metadata: map[string]any{
			"queueItemId":       item.ID,
			"provider":          id.String(),
			"providerMessageId": messageID,
			"error":             truncateError(cause.Error()),
		},
	})
	if err != nil {
		logger.Error("failed to record unconfirmed delivery event", zap.Error(err))
	}
}

func (d *Dispatcher) release(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, reason string, report *CycleReport) {
	if err := d.queue.Release(ctx, item.ID, d.now(), reason); err != nil {
		report.Errors++
		logger.Error("failed to release item", zap.Error(err))
		return
	}
	report.Released++
}

func (d *Dispatcher) reschedule(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, outcome itemOutcome, report *CycleReport) {
	delay := BackoffFor(d.cfg.Backoff, item.Attempts)
	next := d.now().Add(delay)

	err := d.queue.Reschedule(ctx, item.ID, next, repository.Outcome{
		LastError:          outcome.lastError,
		AttemptedProviders: outcome.attempted,
		RejectedProviders:  outcome.rejected,
	})
	if err != nil {
		report.Errors++
		logger.Error("failed to reschedule item", zap.Error(err))
		return
	}

	report.Rescheduled++
	d.metrics.IncRetryScheduled(item.Category.String())
	logger.Info("delivery failed, retry scheduled",
		zap.Time("nextRetryAt", next),
		zap.String("lastError", outcome.lastError),
	)
}

func (d *Dispatcher) deadLetter(ctx context.Context, logger *zap.Logger, item *domain.QueueItem, outcome itemOutcome, report *CycleReport) {
	dl := &domain.DeadLetterItem{
		ID:                 uuid.NewString(),
		QueueItemID:        item.ID,
		Recipient:          item.Recipient,
		Category:           item.Category,
		TemplateID:         item.TemplateID,
		Payload:            item.Payload,
		Attempts:           item.Attempts,
		MaxAttempts:        item.MaxAttempts,
		ProvidersAttempted: outcome.attempted,
		FailureReason:      outcome.lastError,
		MovedAt:            d.now().UTC(),
	}

	err := d.queue.MoveToDeadLetter(ctx, item.ID, dl, repository.Outcome{
		LastError:          outcome.lastError,
		AttemptedProviders: outcome.attempted,
		RejectedProviders:  outcome.rejected,
	})
	if err != nil {
		report.Errors++
		logger.Error("failed to move item to dead letter store", zap.Error(err))
		return
	}

	report.DeadLettered++
	d.metrics.IncItemDeadLettered(item.Category.String())

	providers := make([]string, 0, len(outcome.attempted))
	for _, p := range outcome.attempted {
		providers = append(providers, p.String())
	}
	err = d.events.Record(ctx, domain.HealthEvent{
		Type:     domain.EventDeadLettered,
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("message %s moved to dead letter store after %d attempts", item.ID, item.Attempts),
		Metadata: map[string]any{
			"queueItemId":        item.ID,
			"deadLetterId":       dl.ID,
			"category":           item.Category.String(),
			"attempts":           item.Attempts,
			"providersAttempted": providers,
			"failureReason":      outcome.lastError,
		},
	})
	if err != nil {
		logger.Error("failed to record dead letter event", zap.Error(err))
	}
}

func (d *Dispatcher) releaseProbe(ctx context.Context, logger *zap.Logger, id domain.ProviderID) {
	if err := d.breakers.ReleaseProbe(ctx, id); err != nil {
		logger.Error("failed to release probe", observability.ProviderField(id), zap.Error(err))
	}
}

func (d *Dispatcher) recordHealth(ctx context.Context, logger *zap.Logger, id domain.ProviderID, success bool, latency time.Duration) {
	if err := d.health.Record(ctx, id, success, latency); err != nil {
		logger.Error("failed to record provider metrics", observability.ProviderField(id), zap.Error(err))
	}
}

func (d *Dispatcher) everyProviderRejected(rejected []domain.ProviderID) bool {
	for _, p := range d.providers.Configs() {
		if !slices.Contains(rejected, p.ID) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) reportQuotaExhausted(ctx context.Context, p domain.Provider, window string) {
	day := d.now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("quota_exhausted:%s:%s", p.ID, day)
	id := p.ID

	_, err := d.events.RecordOnce(ctx, key, quotaEventKeyTTL, domain.HealthEvent{
		Provider: &id,
		Type:     domain.EventQuotaExhausted,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("%s quota exhausted for %s, provider skipped until reset", window, p.ID),
		Metadata: map[string]any{
			"window":       window,
			"day":          day,
			"dailyLimit":   p.DailyLimit,
			"monthlyLimit": p.MonthlyLimit,
		},
	})
	if err != nil {
		d.logger.Error("failed to record quota exhausted event", observability.ProviderField(p.ID), zap.Error(err))
	}
}

func (d *Dispatcher) reportAllExhausted(ctx context.Context, evaluated []Candidate) {
	states := make(map[string]any, len(evaluated))
	for _, c := range evaluated {
		reason := string(c.Excluded)
		if reason == "" {
			reason = c.State.String()
		}
		states[c.Provider.ID.String()] = reason
	}

	_, err := d.events.RecordOnce(ctx, allExhaustedEventKey, d.cfg.ExhaustionAlertWindow, domain.HealthEvent{
		Type:     domain.EventAllProvidersExhausted,
		Severity: domain.SeverityCritical,
		Message:  "all providers are open or out of quota, deliveries are paused",
		Metadata: map[string]any{"providers": states},
	})
	if err != nil {
		d.logger.Error("failed to record all providers exhausted event", zap.Error(err))
	}
}

// BackoffFor returns the retry delay after the given attempt number (1-based),
// clamping to the last step of the schedule.
func BackoffFor(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		schedule = defaultBackoff
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func windowFromRemaining(q domain.QuotaRemaining) string {
	if q.Daily == 0 {
		return quota.DailyExhausted.String()
	}
	return quota.MonthlyExhausted.String()
}

func truncateError(s string) string {
	return domain.TruncateText(s, maxStoredErrorLength)
}
