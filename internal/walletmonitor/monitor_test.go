package walletmonitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/x402fac/facilitator/pkg/protocol"
)

func TestMonitor_AlertsBelowThreshold(t *testing.T) {
	var alertCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alertCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetchers := map[protocol.Family]BalanceFetcher{
		protocol.FamilyEVM: func(_ context.Context, _ protocol.Network, _ string) (float64, string, error) {
			return 0.01, "ETH", nil
		},
	}
	wallets := []Wallet{{Network: protocol.NetworkBase, Address: "0xsigner", Threshold: 0.1}}

	m := NewMonitor(Config{
		CheckInterval:  time.Hour,
		AlertURL:       server.URL,
		RequestTimeout: time.Second,
	}, wallets, fetchers, zerolog.Nop())

	m.checkBalances(context.Background())

	require.Equal(t, int32(1), atomic.LoadInt32(&alertCount))
}

func TestMonitor_HealthyBalance_NoAlert(t *testing.T) {
	var alertCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alertCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetchers := map[protocol.Family]BalanceFetcher{
		protocol.FamilyEVM: func(_ context.Context, _ protocol.Network, _ string) (float64, string, error) {
			return 5.0, "ETH", nil
		},
	}
	wallets := []Wallet{{Network: protocol.NetworkBase, Address: "0xsigner", Threshold: 0.1}}

	m := NewMonitor(Config{AlertURL: server.URL, RequestTimeout: time.Second}, wallets, fetchers, zerolog.Nop())
	m.checkBalances(context.Background())

	require.Equal(t, int32(0), atomic.LoadInt32(&alertCount))
}

func TestMonitor_DoesNotReAlertWithinInterval(t *testing.T) {
	var alertCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alertCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetchers := map[protocol.Family]BalanceFetcher{
		protocol.FamilyEVM: func(_ context.Context, _ protocol.Network, _ string) (float64, string, error) {
			return 0.01, "ETH", nil
		},
	}
	wallets := []Wallet{{Network: protocol.NetworkBase, Address: "0xsigner", Threshold: 0.1}}

	m := NewMonitor(Config{
		AlertURL:        server.URL,
		RequestTimeout:  time.Second,
		ReAlertInterval: time.Hour,
	}, wallets, fetchers, zerolog.Nop())

	m.checkBalances(context.Background())
	m.checkBalances(context.Background())

	require.Equal(t, int32(1), atomic.LoadInt32(&alertCount))
}

func TestMonitor_NoFetcherRegistered_SkipsWallet(t *testing.T) {
	var alertCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alertCount, 1)
	}))
	defer server.Close()

	wallets := []Wallet{{Network: protocol.NetworkSolana, Address: "abc", Threshold: 0.1}}
	m := NewMonitor(Config{AlertURL: server.URL, RequestTimeout: time.Second}, wallets, map[protocol.Family]BalanceFetcher{}, zerolog.Nop())

	m.checkBalances(context.Background())

	require.Equal(t, int32(0), atomic.LoadInt32(&alertCount))
}
