package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "pbs"
	subsystem = "frontend"
)

// TransactionPhase labels which route of the transaction protocol a
// request hit.
type TransactionPhase string

const (
	PhaseBegin     TransactionPhase = "BEGIN"
	PhasePrepare   TransactionPhase = "PREPARE"
	PhaseCommit    TransactionPhase = "COMMIT"
	PhaseAbort     TransactionPhase = "ABORT"
	PhaseNotify    TransactionPhase = "NOTIFY"
	PhaseEnd       TransactionPhase = "END"
	PhaseGetStatus TransactionPhase = "GET_STATUS"
)

// OriginClass labels who is calling: an adtech operator or the peer
// coordinator.
type OriginClass string

const (
	OriginOperator    OriginClass = "OPERATOR"
	OriginCoordinator OriginClass = "COORDINATOR"
)

// Registry carries the fixed metric taxonomy. All metrics live in a
// private prometheus registry; nothing registers globally.
type Registry struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	clientErrors *prometheus.CounterVec
	serverErrors *prometheus.CounterVec

	keysPerTransaction       *prometheus.HistogramVec
	successfulBudgetConsumed *prometheus.HistogramVec
	budgetExhausted          *prometheus.HistogramVec

	buildInfo *prometheus.GaugeVec
	storeUp   prometheus.Gauge
	redisUp   prometheus.Gauge
}

var requestLabels = []string{"transaction_phase", "reporting_origin_class", "claimed_identity", "user_agent"}
var budgetLabels = []string{"transaction_phase", "reporting_origin_class"}

// transactionBuckets is the 26-entry geometric series starting at 1.0
// with ratio 1.5; the last bucket is pinned to the documented cap.
func transactionBuckets() []float64 {
	b := prometheus.ExponentialBuckets(1.0, 1.5, 26)
	b[len(b)-1] = 25251.2
	return b
}

// exhaustedBuckets covers powers of two from 1 through 2048.
func exhaustedBuckets() []float64 {
	return prometheus.ExponentialBuckets(1, 2, 12)
}

func NewRegistry(version string) *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Requests received, by transaction phase and caller",
	}, requestLabels)

	r.clientErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "client_errors_total",
		Help:      "Requests rejected with a 4xx status",
	}, requestLabels)

	r.serverErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "server_errors_total",
		Help:      "Requests failed with a 5xx status",
	}, requestLabels)

	r.keysPerTransaction = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "keys_per_transaction",
		Help:      "Distinct budget slots requested per transaction",
		Buckets:   transactionBuckets(),
	}, budgetLabels)

	r.successfulBudgetConsumed = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "successful_budget_consumed",
		Help:      "Budget slots consumed by committed transactions",
		Buckets:   transactionBuckets(),
	}, budgetLabels)

	r.budgetExhausted = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "budget_exhausted",
		Help:      "Exhausted key count per rejected transaction",
		Buckets:   exhaustedBuckets(),
	}, budgetLabels)

	r.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata",
	}, []string{"version"})

	r.storeUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_up",
		Help:      "Whether the budget store answered the last health probe",
	})

	r.redisUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "redis_up",
		Help:      "Whether redis answered the last health probe",
	})

	r.registry.MustRegister(
		r.requests, r.clientErrors, r.serverErrors,
		r.keysPerTransaction, r.successfulBudgetConsumed, r.budgetExhausted,
		r.buildInfo, r.storeUp, r.redisUp,
	)
	r.buildInfo.WithLabelValues(version).Set(1)
	return r
}

// ObserveRequest counts one finished request and, for failures, the
// matching error counter.
func (r *Registry) ObserveRequest(phase TransactionPhase, class OriginClass, identity, userAgent string, status int) {
	labels := []string{string(phase), string(class), orUnknown(identity), orUnknown(userAgent)}
	r.requests.WithLabelValues(labels...).Inc()
	switch {
	case status >= 500:
		r.serverErrors.WithLabelValues(labels...).Inc()
	case status >= 400:
		r.clientErrors.WithLabelValues(labels...).Inc()
	}
}

func (r *Registry) ObserveKeysPerTransaction(phase TransactionPhase, class OriginClass, n int) {
	r.keysPerTransaction.WithLabelValues(string(phase), string(class)).Observe(float64(n))
}

func (r *Registry) ObserveBudgetConsumed(phase TransactionPhase, class OriginClass, n int) {
	r.successfulBudgetConsumed.WithLabelValues(string(phase), string(class)).Observe(float64(n))
}

func (r *Registry) ObserveBudgetExhausted(phase TransactionPhase, class OriginClass, n int) {
	r.budgetExhausted.WithLabelValues(string(phase), string(class)).Observe(float64(n))
}

func (r *Registry) SetStoreUp(up bool) {
	r.storeUp.Set(boolValue(up))
}

func (r *Registry) SetRedisUp(up bool) {
	r.redisUp.Set(boolValue(up))
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for test assertions.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
