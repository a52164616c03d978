package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	syncDuration     *prometheus.HistogramVec
	syncAttempts     *prometheus.CounterVec
	txImported       prometheus.Counter
	txSkipped        prometheus.Counter
	providerErrors   *prometheus.CounterVec
	lockContention   prometheus.Counter
	tokenRefreshes   *prometheus.CounterVec
	disconnectsTotal prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgerlink_sync_duration_seconds",
				Help:    "Duration of sync attempts by trigger.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		syncAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerlink_sync_attempts_total",
				Help: "Total sync attempts by final status.",
			},
			[]string{"status"},
		),
		txImported: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerlink_transactions_imported_total",
				Help: "Total transactions imported from the provider.",
			},
		),
		txSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerlink_transactions_skipped_total",
				Help: "Total provider transactions skipped as duplicates.",
			},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerlink_provider_errors_total",
				Help: "Total errors from the open-banking provider.",
			},
			[]string{"operation"},
		),
		lockContention: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerlink_sync_lock_contention_total",
				Help: "Total sync triggers skipped because the lock was held.",
			},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerlink_token_refreshes_total",
				Help: "Total token refresh calls by outcome.",
			},
			[]string{"outcome"},
		),
		disconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledgerlink_disconnects_total",
				Help: "Total completed connection disconnects.",
			},
		),
	}
}

// RecordSyncDuration records the wall-clock time of one sync attempt.
func (m *Metrics) RecordSyncDuration(trigger string, d time.Duration) {
	m.syncDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// IncrSyncAttempt increments the attempt counter with a final status label.
func (m *Metrics) IncrSyncAttempt(status string) {
	m.syncAttempts.WithLabelValues(status).Inc()
}

// AddImported records transactions imported in one attempt.
func (m *Metrics) AddImported(n int) {
	m.txImported.Add(float64(n))
}

// AddSkipped records duplicate transactions skipped in one attempt.
func (m *Metrics) AddSkipped(n int) {
	m.txSkipped.Add(float64(n))
}

// IncrProviderError increments the provider error counter for an operation.
func (m *Metrics) IncrProviderError(operation string) {
	m.providerErrors.WithLabelValues(operation).Inc()
}

// IncrLockContention counts a sync trigger skipped due to a held lock.
func (m *Metrics) IncrLockContention() {
	m.lockContention.Inc()
}

// IncrTokenRefresh increments the refresh counter with an outcome label
// ("success", "invalid_grant", "error").
func (m *Metrics) IncrTokenRefresh(outcome string) {
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// IncrDisconnect counts a completed disconnect.
func (m *Metrics) IncrDisconnect() {
	m.disconnectsTotal.Inc()
}

// SyncStats is a snapshot of sync-related metrics for GET /v1/sync/stats.
type SyncStats struct {
	AttemptsTotal        int64   `json:"attemptsTotal"`
	SuccessTotal         int64   `json:"successTotal"`
	PartialTotal         int64   `json:"partialTotal"`
	FailedTotal          int64   `json:"failedTotal"`
	TransactionsImported int64   `json:"transactionsImported"`
	TransactionsSkipped  int64   `json:"transactionsSkipped"`
	LockContentionTotal  int64   `json:"lockContentionTotal"`
	SuccessRate          float64 `json:"successRate"`
}

// GetSyncStats returns a snapshot of sync counters.
// Note: Prometheus counters expose cumulative values.
func (m *Metrics) GetSyncStats() *SyncStats {
	success := getCounterValue(m.syncAttempts, "success")
	partial := getCounterValue(m.syncAttempts, "partial")
	failed := getCounterValue(m.syncAttempts, "failed")
	total := success + partial + failed

	rate := float64(0)
	if total > 0 {
		rate = success / total
	}

	return &SyncStats{
		AttemptsTotal:        int64(total),
		SuccessTotal:         int64(success),
		PartialTotal:         int64(partial),
		FailedTotal:          int64(failed),
		TransactionsImported: int64(counterValue(m.txImported)),
		TransactionsSkipped:  int64(counterValue(m.txSkipped)),
		LockContentionTotal:  int64(counterValue(m.lockContention)),
		SuccessRate:          rate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
