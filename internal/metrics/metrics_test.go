package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}

	if m.VerifyRequestsTotal == nil {
		t.Error("VerifyRequestsTotal should be initialized")
	}
	if m.VerifySuccessTotal == nil {
		t.Error("VerifySuccessTotal should be initialized")
	}
	if m.VerifyFailedTotal == nil {
		t.Error("VerifyFailedTotal should be initialized")
	}
	if m.VerifyDuration == nil {
		t.Error("VerifyDuration should be initialized")
	}
	if m.SettleRequestsTotal == nil {
		t.Error("SettleRequestsTotal should be initialized")
	}
	if m.SettlementDuration == nil {
		t.Error("SettlementDuration should be initialized")
	}
	if m.RPCCallsTotal == nil {
		t.Error("RPCCallsTotal should be initialized")
	}
	if m.RPCCallDuration == nil {
		t.Error("RPCCallDuration should be initialized")
	}
	if m.RPCErrorsTotal == nil {
		t.Error("RPCErrorsTotal should be initialized")
	}
	if m.ComplianceChecksTotal == nil {
		t.Error("ComplianceChecksTotal should be initialized")
	}
	if m.NonceStoreChecksTotal == nil {
		t.Error("NonceStoreChecksTotal should be initialized")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState should be initialized")
	}
	if m.WalletLowBalanceAlertsTotal == nil {
		t.Error("WalletLowBalanceAlertsTotal should be initialized")
	}
	if m.RateLimitHitsTotal == nil {
		t.Error("RateLimitHitsTotal should be initialized")
	}
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

func TestObserveVerify(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveVerify("base-sepolia", "exact", true, "", 10*time.Millisecond)

	count := promtest.ToFloat64(m.VerifyRequestsTotal.WithLabelValues("base-sepolia", "exact"))
	if count != 1 {
		t.Errorf("expected 1 verify request, got %.0f", count)
	}

	successCount := promtest.ToFloat64(m.VerifySuccessTotal.WithLabelValues("base-sepolia", "exact"))
	if successCount != 1 {
		t.Errorf("expected 1 successful verify, got %.0f", successCount)
	}
}

func TestObserveVerifyFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveVerify("solana", "exact", false, "insufficient_funds", 5*time.Millisecond)

	count := promtest.ToFloat64(m.VerifyFailedTotal.WithLabelValues("solana", "exact", "insufficient_funds"))
	if count != 1 {
		t.Errorf("expected 1 failed verify, got %.0f", count)
	}
}

func TestObserveSettle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettle("stellar-testnet", "exact", true, "", 250*time.Millisecond)

	count := promtest.ToFloat64(m.SettleRequestsTotal.WithLabelValues("stellar-testnet", "exact"))
	if count != 1 {
		t.Errorf("expected 1 settle request, got %.0f", count)
	}
	successCount := promtest.ToFloat64(m.SettleSuccessTotal.WithLabelValues("stellar-testnet", "exact"))
	if successCount != 1 {
		t.Errorf("expected 1 successful settle, got %.0f", successCount)
	}
}

func TestObserveSettleFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettle("near-mainnet", "exact", false, "broadcast_failed", 1*time.Second)

	count := promtest.ToFloat64(m.SettleFailedTotal.WithLabelValues("near-mainnet", "exact", "broadcast_failed"))
	if count != 1 {
		t.Errorf("expected 1 failed settle, got %.0f", count)
	}
}

func TestObserveSettlementConfirmation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettlementConfirmation("near-mainnet", 5*time.Second)

	// For histograms, we can't directly check the count with testutil.ToFloat64.
	// Verify the metric was created and observation did not panic.
	if m.SettlementDuration == nil {
		t.Error("SettlementDuration should be initialized")
	}
}

func TestObserveRPCCall(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		network       string
		duration      time.Duration
		err           error
		wantCalls     float64
		wantErrorType string
		wantErrors    float64
	}{
		{
			name:      "successful RPC call",
			method:    "getTransaction",
			network:   "mainnet-beta",
			duration:  100 * time.Millisecond,
			err:       nil,
			wantCalls: 1,
		},
		{
			name:          "failed RPC call with connection error",
			method:        "getTransaction",
			network:       "mainnet-beta",
			duration:      100 * time.Millisecond,
			err:           &testError{msg: "connection reset"},
			wantCalls:     1,
			wantErrorType: "connection",
			wantErrors:    1,
		},
		{
			name:          "failed RPC call with timeout",
			method:        "eth_call",
			network:       "base-sepolia",
			duration:      2 * time.Second,
			err:           &testError{msg: "timeout waiting for response"},
			wantCalls:     1,
			wantErrorType: "timeout",
			wantErrors:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveRPCCall(tt.method, tt.network, tt.duration, tt.err)

			calls := promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues(tt.method, tt.network))
			if calls != tt.wantCalls {
				t.Errorf("expected %.0f RPC calls, got %.0f", tt.wantCalls, calls)
			}

			if tt.err != nil {
				errors := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues(tt.method, tt.network, tt.wantErrorType))
				if errors != tt.wantErrors {
					t.Errorf("expected %.0f RPC errors, got %.0f", tt.wantErrors, errors)
				}
			}
		})
	}
}

func TestObserveCompliance(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCompliance("allow", map[string]time.Duration{
		"local-blacklist": 2 * time.Millisecond,
		"ofac-remote":     40 * time.Millisecond,
	})

	count := promtest.ToFloat64(m.ComplianceChecksTotal.WithLabelValues("allow"))
	if count != 1 {
		t.Errorf("expected 1 compliance check, got %.0f", count)
	}
}

func TestObserveNonceStoreCheck(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveNonceStoreCheck("evm", "fresh")
	m.ObserveNonceStoreCheck("evm", "already_used")

	fresh := promtest.ToFloat64(m.NonceStoreChecksTotal.WithLabelValues("evm", "fresh"))
	if fresh != 1 {
		t.Errorf("expected 1 fresh nonce check, got %.0f", fresh)
	}
	reused := promtest.ToFloat64(m.NonceStoreChecksTotal.WithLabelValues("evm", "already_used"))
	if reused != 1 {
		t.Errorf("expected 1 already-used nonce check, got %.0f", reused)
	}
}

func TestObserveCircuitBreakerState(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCircuitBreakerState("evm-rpc", 2)

	state := promtest.ToFloat64(m.CircuitBreakerState.WithLabelValues("evm-rpc"))
	if state != 2 {
		t.Errorf("expected circuit breaker state 2, got %.0f", state)
	}
}

func TestObserveWalletLowBalanceAlert(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveWalletLowBalanceAlert("base-sepolia")

	count := promtest.ToFloat64(m.WalletLowBalanceAlertsTotal.WithLabelValues("base-sepolia"))
	if count != 1 {
		t.Errorf("expected 1 wallet low balance alert, got %.0f", count)
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("payer", "0xabc123")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("payer", "0xabc123"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

func TestObserveDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDBQuery("SELECT", "postgres", 50*time.Millisecond)

	// For histograms, verify the metric exists and was created successfully.
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

// testError is a simple error type for testing.
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
