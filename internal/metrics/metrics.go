package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the facilitator.
type Metrics struct {
	// Verify metrics
	VerifyRequestsTotal *prometheus.CounterVec
	VerifySuccessTotal  *prometheus.CounterVec
	VerifyFailedTotal   *prometheus.CounterVec
	VerifyDuration      *prometheus.HistogramVec

	// Settle metrics
	SettleRequestsTotal *prometheus.CounterVec
	SettleSuccessTotal  *prometheus.CounterVec
	SettleFailedTotal   *prometheus.CounterVec
	SettleDuration      *prometheus.HistogramVec
	SettlementDuration  *prometheus.HistogramVec // initiation to confirmed on-chain settlement

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Compliance screening metrics
	ComplianceChecksTotal  *prometheus.CounterVec
	ComplianceCheckLatency *prometheus.HistogramVec

	// Nonce store metrics
	NonceStoreChecksTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Wallet monitor metrics
	WalletLowBalanceAlertsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerifyRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_verify_requests_total",
				Help: "Total number of /verify requests",
			},
			[]string{"network", "scheme"},
		),
		VerifySuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_verify_success_total",
				Help: "Total number of /verify requests that returned isValid=true",
			},
			[]string{"network", "scheme"},
		),
		VerifyFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_verify_failed_total",
				Help: "Total number of /verify requests that returned isValid=false",
			},
			[]string{"network", "scheme", "reason"},
		),
		VerifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_verify_duration_seconds",
				Help:    "Time taken to verify a payment authorization",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"network", "scheme"},
		),

		SettleRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settle_requests_total",
				Help: "Total number of /settle requests",
			},
			[]string{"network", "scheme"},
		),
		SettleSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settle_success_total",
				Help: "Total number of /settle requests that returned success=true",
			},
			[]string{"network", "scheme"},
		),
		SettleFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settle_failed_total",
				Help: "Total number of /settle requests that returned success=false",
			},
			[]string{"network", "scheme", "reason"},
		),
		SettleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_settle_duration_seconds",
				Help:    "Time taken to process a /settle request, including broadcast",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"network", "scheme"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_settlement_duration_seconds",
				Help:    "Time from settlement broadcast to on-chain confirmation",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"network"},
		),

		// RPC call metrics
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_rpc_calls_total",
				Help: "Total number of RPC calls to a chain node",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls to a chain node",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_rpc_errors_total",
				Help: "Total number of RPC errors",
			},
			[]string{"method", "network", "error_type"},
		),

		// Compliance screening metrics
		ComplianceChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_compliance_checks_total",
				Help: "Total number of compliance screening checks, by verdict",
			},
			[]string{"verdict"}, // allow, block, error
		),
		ComplianceCheckLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_compliance_check_duration_seconds",
				Help:    "Time taken to screen a payer/payee pair against all sources",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"source"},
		),

		// Nonce store metrics
		NonceStoreChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_nonce_store_checks_total",
				Help: "Total number of nonce-store CheckAndMarkUsed calls, by outcome",
			},
			[]string{"family", "outcome"}, // fresh, already_used
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "facilitator_circuit_breaker_state",
				Help: "Circuit breaker state per service: 0=closed, 1=half-open, 2=open",
			},
			[]string{"service"},
		),

		// Wallet monitor metrics
		WalletLowBalanceAlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_wallet_low_balance_alerts_total",
				Help: "Total number of low-balance alerts fired for a signer wallet",
			},
			[]string{"network"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_db_query_duration_seconds",
				Help:    "Database query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilitator_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveVerify records a /verify outcome.
func (m *Metrics) ObserveVerify(network, scheme string, valid bool, reason string, duration time.Duration) {
	m.VerifyRequestsTotal.WithLabelValues(network, scheme).Inc()
	if valid {
		m.VerifySuccessTotal.WithLabelValues(network, scheme).Inc()
	} else {
		m.VerifyFailedTotal.WithLabelValues(network, scheme, reason).Inc()
	}
	m.VerifyDuration.WithLabelValues(network, scheme).Observe(duration.Seconds())
}

// ObserveSettle records a /settle outcome.
func (m *Metrics) ObserveSettle(network, scheme string, success bool, reason string, duration time.Duration) {
	m.SettleRequestsTotal.WithLabelValues(network, scheme).Inc()
	if success {
		m.SettleSuccessTotal.WithLabelValues(network, scheme).Inc()
	} else {
		m.SettleFailedTotal.WithLabelValues(network, scheme, reason).Inc()
	}
	m.SettleDuration.WithLabelValues(network, scheme).Observe(duration.Seconds())
}

// ObserveSettlementConfirmation records the time from broadcast to
// on-chain confirmation, separate from ObserveSettle's request-handling
// latency.
func (m *Metrics) ObserveSettlementConfirmation(network string, duration time.Duration) {
	m.SettlementDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveRPCCall records an RPC call to a chain node.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "unknown"
		if errStr := err.Error(); errStr != "" {
			switch {
			case contains(errStr, "timeout"):
				errorType = "timeout"
			case contains(errStr, "rate limit"):
				errorType = "rate_limit"
			case contains(errStr, "connection"):
				errorType = "connection"
			case contains(errStr, "not found"):
				errorType = "not_found"
			default:
				errorType = "other"
			}
		}
		m.RPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveCompliance records a compliance screening check's verdict and,
// per remote source consulted, its latency.
func (m *Metrics) ObserveCompliance(verdict string, sourceLatencies map[string]time.Duration) {
	m.ComplianceChecksTotal.WithLabelValues(verdict).Inc()
	for source, d := range sourceLatencies {
		m.ComplianceCheckLatency.WithLabelValues(source).Observe(d.Seconds())
	}
}

// ObserveNonceStoreCheck records a CheckAndMarkUsed call's outcome.
func (m *Metrics) ObserveNonceStoreCheck(family, outcome string) {
	m.NonceStoreChecksTotal.WithLabelValues(family, outcome).Inc()
}

// ObserveCircuitBreakerState records a service's current breaker state.
func (m *Metrics) ObserveCircuitBreakerState(service string, stateValue float64) {
	m.CircuitBreakerState.WithLabelValues(service).Set(stateValue)
}

// ObserveWalletLowBalanceAlert records a fired low-balance alert.
func (m *Metrics) ObserveWalletLowBalanceAlert(network string) {
	m.WalletLowBalanceAlertsTotal.WithLabelValues(network).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// Helper functions
func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
