package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	settlementCounter     *prometheus.CounterVec
	ledgerCounter         *prometheus.CounterVec
	webhookCounter        *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	integrityCounter      *prometheus.CounterVec
	adminActionCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	rateCacheCounter      *prometheus.CounterVec
	ordersCreatedCounter  *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_settlement_transitions_total",
			Help: "Terminal transition attempts by source, target status and result",
		}, []string{"source", "status", "result"})

		ledgerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saldo_mutations_total",
			Help: "Saldo journal writes by kind",
		}, []string{"kind"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_webhooks_total",
			Help: "Gateway IPN deliveries by kind and result",
		}, []string{"kind", "result"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		integrityCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saldo_integrity_violations_total",
			Help: "Integrity check findings by check name",
		}, []string{"check"})

		adminActionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_actions_total",
			Help: "Admin complete/reject link outcomes",
		}, []string{"action", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		rateCacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_cache_lookups_total",
			Help: "Rate cache lookups by result",
		}, []string{"cache", "result"})

		ordersCreatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created by channel and direction",
		}, []string{"channel", "direction"})

		prometheus.MustRegister(
			httpDurationHistogram,
			settlementCounter,
			ledgerCounter,
			webhookCounter,
			idempotencyCounter,
			integrityCounter,
			adminActionCounter,
			workerRunCounter,
			rateCacheCounter,
			ordersCreatedCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementSettlement(source, status, result string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(source, status, result).Inc()
}

func IncrementLedgerMutation(kind string) {
	if ledgerCounter == nil {
		return
	}
	ledgerCounter.WithLabelValues(kind).Inc()
}

func IncrementWebhook(kind, result string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(kind, result).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func AddIntegrityViolations(check string, n int) {
	if integrityCounter == nil || n <= 0 {
		return
	}
	integrityCounter.WithLabelValues(check).Add(float64(n))
}

func IncrementAdminAction(action, result string) {
	if adminActionCounter == nil {
		return
	}
	adminActionCounter.WithLabelValues(action, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementRateCache(cache, result string) {
	if rateCacheCounter == nil {
		return
	}
	rateCacheCounter.WithLabelValues(cache, result).Inc()
}

func IncrementOrderCreated(channel, direction string) {
	if ordersCreatedCounter == nil {
		return
	}
	ordersCreatedCounter.WithLabelValues(channel, direction).Inc()
}
