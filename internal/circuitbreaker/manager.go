// Package circuitbreaker isolates RPC and compliance-source failures per
// external service so a stuck EVM RPC node cannot cascade into Solana
// settlement or vice versa.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service for bulkhead isolation. One
// breaker per chain family's RPC surface, plus one for the compliance
// remote list source.
type ServiceType string

const (
	ServiceEVMRPC         ServiceType = "evm_rpc"
	ServiceSolanaRPC      ServiceType = "solana_rpc"
	ServiceNearRPC        ServiceType = "near_rpc"
	ServiceStellarRPC     ServiceType = "stellar_rpc"
	ServiceComplianceFeed ServiceType = "compliance_feed"
	ServiceFHETransfer    ServiceType = "fhe_transfer"
)

// Manager manages circuit breakers for different external services.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for every isolated service.
type Config struct {
	Enabled bool

	EVMRPC         BreakerConfig
	SolanaRPC      BreakerConfig
	NearRPC        BreakerConfig
	StellarRPC     BreakerConfig
	ComplianceFeed BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceEVMRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceEVMRPC), cfg.EVMRPC))
	m.breakers[ServiceSolanaRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceSolanaRPC), cfg.SolanaRPC))
	m.breakers[ServiceNearRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceNearRPC), cfg.NearRPC))
	m.breakers[ServiceStellarRPC] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceStellarRPC), cfg.StellarRPC))
	m.breakers[ServiceComplianceFeed] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceComplianceFeed), cfg.ComplianceFeed))

	return m
}

// Execute wraps a function call with circuit breaker protection. If circuit
// breakers are disabled or not configured for the service, it executes fn
// directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			fmt.Printf("circuit breaker %s: %s -> %s\n", name, from.String(), to.String())
		},
	}
}

// DefaultConfig returns sensible defaults for every isolated service.
func DefaultConfig() Config {
	rpcDefault := BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	return Config{
		Enabled:        true,
		EVMRPC:         rpcDefault,
		SolanaRPC:      rpcDefault,
		NearRPC:        rpcDefault,
		StellarRPC:     rpcDefault,
		ComplianceFeed: rpcDefault,
	}
}
