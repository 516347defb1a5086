package compliance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/pkg/protocol"
)

func TestRemoteSource_MatchesFlaggedAddress(t *testing.T) {
	flagged := "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") == flagged {
			w.Write([]byte(`{"listed": true}`))
			return
		}
		w.Write([]byte(`{"listed": false}`))
	}))
	defer server.Close()

	breaker := circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	source := NewRemoteSource("ofac-style", server.URL, breaker, true, time.Second)

	flaggedAddr, err := protocol.ParseAddress(protocol.FamilyEVM, flagged)
	require.NoError(t, err)
	listed, err := source.IsListed(context.Background(), flaggedAddr)
	require.NoError(t, err)
	require.True(t, listed)

	clean, err := protocol.ParseAddress(protocol.FamilyEVM, "0x000000000000000000000000000000000000dEaD")
	require.NoError(t, err)
	listed, err = source.IsListed(context.Background(), clean)
	require.NoError(t, err)
	require.False(t, listed)
}

func TestRemoteSource_NonOKStatus_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	source := NewRemoteSource("ofac-style", server.URL, breaker, true, time.Second)

	addr, err := protocol.ParseAddress(protocol.FamilyEVM, "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	require.NoError(t, err)

	_, err = source.IsListed(context.Background(), addr)
	require.Error(t, err)
}

func TestRemoteSource_CircuitBreakerTripsOnRepeatedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := circuitbreaker.DefaultConfig()
	cfg.ComplianceFeed.ConsecutiveFailures = 1
	cfg.ComplianceFeed.FailureRatio = 0
	breaker := circuitbreaker.NewManager(cfg)
	source := NewRemoteSource("ofac-style", server.URL, breaker, true, time.Second)

	addr, err := protocol.ParseAddress(protocol.FamilyEVM, "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	require.NoError(t, err)

	_, _ = source.IsListed(context.Background(), addr)
	require.Equal(t, "open", breaker.State(circuitbreaker.ServiceComplianceFeed))
}
