package circuitbreaker

import (
	"errors"
	"testing"
)

func TestManager_Disabled_PassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false})

	calls := 0
	_, err := m.Execute(ServiceEVMRPC, func() (interface{}, error) {
		calls++
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
	if m.State(ServiceEVMRPC) != "disabled" {
		t.Errorf("got state %q, want disabled", m.State(ServiceEVMRPC))
	}
}

func TestManager_TripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SolanaRPC.ConsecutiveFailures = 2
	cfg.SolanaRPC.FailureRatio = 0
	m := NewManager(cfg)

	failing := func() (interface{}, error) { return nil, errors.New("rpc down") }

	_, _ = m.Execute(ServiceSolanaRPC, failing)
	_, _ = m.Execute(ServiceSolanaRPC, failing)

	if m.State(ServiceSolanaRPC) != "open" {
		t.Errorf("got state %q, want open after consecutive failures", m.State(ServiceSolanaRPC))
	}

	_, err := m.Execute(ServiceSolanaRPC, func() (interface{}, error) { return "ok", nil })
	if err == nil {
		t.Error("expected open breaker to reject the call")
	}
}

func TestManager_UnconfiguredService_PassesThrough(t *testing.T) {
	m := NewManager(DefaultConfig())
	if m.State(ServiceType("unknown")) != "not_configured" {
		t.Errorf("got state %q, want not_configured", m.State(ServiceType("unknown")))
	}
}
