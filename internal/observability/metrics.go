package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notification_dispatcher"

// Metrics stores Prometheus collectors used by API, dispatcher and health flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	providerSendTotal    *prometheus.CounterVec
	providerSendDuration *prometheus.HistogramVec
	providerInflight     *prometheus.GaugeVec
	quotaRejectedTotal   *prometheus.CounterVec
	circuitState         *prometheus.GaugeVec
	healthScore          *prometheus.GaugeVec
	itemsCompletedTotal  *prometheus.CounterVec
	itemsDeadLettered    *prometheus.CounterVec
	retryScheduledTotal  *prometheus.CounterVec
	itemsClaimedTotal    prometheus.Counter
	cycleDuration        prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		providerSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_send_total",
				Help:      "Provider send attempts grouped by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		providerSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		providerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_inflight",
				Help:      "Current number of in-flight provider sends.",
			},
			[]string{"provider"},
		),
		quotaRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejected_total",
				Help:      "Quota consumptions refused grouped by provider and window.",
			},
			[]string{"provider", "window"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state per provider (0 closed, 1 half_open, 2 open).",
			},
			[]string{"provider"},
		),
		healthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health_score",
				Help:      "Latest 0-100 health score per provider.",
			},
			[]string{"provider"},
		),
		itemsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_items_completed_total",
				Help:      "Total number of queue items delivered.",
			},
			[]string{"category"},
		),
		itemsDeadLettered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_items_dead_lettered_total",
				Help:      "Total number of queue items moved to the dead letter store.",
			},
			[]string{"category"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of queue items rescheduled for retry.",
			},
			[]string{"category"},
		),
		itemsClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_items_claimed_total",
				Help:      "Total number of queue items claimed by dispatcher cycles.",
			},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_cycle_duration_seconds",
				Help:      "Dispatcher cycle duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.providerSendTotal,
		m.providerSendDuration,
		m.providerInflight,
		m.quotaRejectedTotal,
		m.circuitState,
		m.healthScore,
		m.itemsCompletedTotal,
		m.itemsDeadLettered,
		m.retryScheduledTotal,
		m.itemsClaimedTotal,
		m.cycleDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveProviderSend(provider string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	providerLabel := normalizeLabel(provider)
	m.providerSendTotal.WithLabelValues(providerLabel, normalizeLabel(outcome)).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.WithLabelValues(providerLabel).Observe(seconds)
}

func (m *Metrics) IncProviderInFlight(provider string) {
	if m == nil {
		return
	}
	m.providerInflight.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) DecProviderInFlight(provider string) {
	if m == nil {
		return
	}
	m.providerInflight.WithLabelValues(normalizeLabel(provider)).Dec()
}

func (m *Metrics) IncQuotaRejected(provider string, window string) {
	if m == nil {
		return
	}
	m.quotaRejectedTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(window)).Inc()
}

func (m *Metrics) SetCircuitState(provider string, state string) {
	if m == nil {
		return
	}
	value := 0.0
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "half_open":
		value = 1
	case "open":
		value = 2
	}
	m.circuitState.WithLabelValues(normalizeLabel(provider)).Set(value)
}

func (m *Metrics) SetHealthScore(provider string, score float64) {
	if m == nil {
		return
	}
	m.healthScore.WithLabelValues(normalizeLabel(provider)).Set(score)
}

func (m *Metrics) IncItemCompleted(category string) {
	if m == nil {
		return
	}
	m.itemsCompletedTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncItemDeadLettered(category string) {
	if m == nil {
		return
	}
	m.itemsDeadLettered.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncRetryScheduled(category string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) AddItemsClaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsClaimedTotal.Add(float64(n))
}

func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
