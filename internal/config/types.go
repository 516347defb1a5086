package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Networks       []NetworkConfig      `yaml:"networks"`
	Near           NearConfig           `yaml:"near"`
	Compliance     ComplianceConfig     `yaml:"compliance"`
	NonceStore     NonceStoreConfig     `yaml:"nonce_store"`
	TokenRegistry  TokenRegistryConfig  `yaml:"token_registry"`
	AuditLog       AuditLogConfig       `yaml:"audit_log"`
	WalletMonitor  WalletMonitorConfig  `yaml:"wallet_monitor"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	PostgresPool   PostgresPoolConfig   `yaml:"postgres_pool"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (leave empty to disable protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// NetworkConfig configures a single enabled chain. Every network the
// facilitator serves needs an RPC endpoint; networks that settle gasless
// payments (all of them, today) also need at least one signer key,
// loaded from environment rather than YAML so keys never land in a
// config file on disk.
type NetworkConfig struct {
	Network    string `yaml:"network"` // protocol.Network value, e.g. "base", "solana", "near"
	Enabled    bool   `yaml:"enabled"`
	RPCURL     string `yaml:"rpc_url"`
	SignerKeys []string `yaml:"-"` // loaded from FACILITATOR_SIGNER_<NETWORK>_1, _2, ...

	// NearAccountID is the on-chain account the NEAR signer keys sign
	// for. Unused outside FamilyNear.
	NearAccountID string `yaml:"near_account_id"`

	// HorizonURL is the Horizon API endpoint used alongside RPCURL's
	// Soroban RPC endpoint for sequence-number lookups and balance
	// queries. Unused outside FamilyStellar.
	HorizonURL string `yaml:"horizon_url"`
}

// NearConfig holds settings specific to the NEAR provider's facilitator-
// funded storage_deposit gate.
type NearConfig struct {
	StorageDepositLimit  int      `yaml:"storage_deposit_limit"`  // Max facilitator-funded deposits per payer per window (default: 5)
	StorageDepositWindow Duration `yaml:"storage_deposit_window"` // Window for the limit above (default: 10m)
}

// ComplianceConfig selects the blacklist backend and lists any remote
// sanctions-screening feeds to consult alongside it.
type ComplianceConfig struct {
	BlacklistSource            string   `yaml:"blacklist_source"` // "yaml", "postgres", or "mongodb"
	BlacklistYAMLPath          string   `yaml:"blacklist_yaml_path"`
	BlacklistPostgresURL       string   `yaml:"blacklist_postgres_url"`
	BlacklistPostgresTableName string   `yaml:"blacklist_postgres_table_name"`
	BlacklistMongoDBURL        string   `yaml:"blacklist_mongodb_url"`
	BlacklistMongoDBDatabase   string   `yaml:"blacklist_mongodb_database"`
	BlacklistMongoDBCollection string   `yaml:"blacklist_mongodb_collection"`
	BlacklistCacheTTL          Duration `yaml:"blacklist_cache_ttl"`

	RemoteSources []RemoteComplianceSourceConfig `yaml:"remote_sources"`
}

// RemoteComplianceSourceConfig configures one external screening feed.
// Required sources fail closed (screening errors) when unreachable; non-required
// sources fail open but can never downgrade a Block from elsewhere.
type RemoteComplianceSourceConfig struct {
	Name     string   `yaml:"name"`
	BaseURL  string   `yaml:"base_url"`
	Required bool     `yaml:"required"`
	Timeout  Duration `yaml:"timeout"`
}

// NonceStoreConfig selects the persistence backend for consumed-nonce
// tracking.
type NonceStoreConfig struct {
	Backend           string `yaml:"backend"` // "memory" or "postgres"
	PostgresURL       string `yaml:"postgres_url"`
	PostgresTableName string `yaml:"postgres_table_name"`
}

// TokenRegistryConfig mirrors tokenregistry.Options for YAML/env loading.
type TokenRegistryConfig struct {
	Source            string   `yaml:"source"` // "yaml", "postgres", or "mongodb"
	YAMLPath          string   `yaml:"yaml_path"`
	PostgresURL       string   `yaml:"postgres_url"`
	PostgresTableName string   `yaml:"postgres_table_name"`
	MongoDBURL        string   `yaml:"mongodb_url"`
	MongoDBDatabase   string   `yaml:"mongodb_database"`
	MongoDBCollection string   `yaml:"mongodb_collection"`
	CacheTTL          Duration `yaml:"cache_ttl"`
}

// AuditLogConfig enables the append-only settlement audit trail. When
// disabled, or when PostgresURL is empty, the facilitator falls back to
// auditlog.NoopLog.
type AuditLogConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PostgresURL string `yaml:"postgres_url"`
	TableName   string `yaml:"table_name"`
}

// WalletMonitorConfig configures balance polling for facilitator-held
// signer wallets, mirroring walletmonitor.Config plus the wallet list.
type WalletMonitorConfig struct {
	Enabled         bool              `yaml:"enabled"`
	CheckInterval   Duration          `yaml:"check_interval"`
	AlertURL        string            `yaml:"alert_url"`
	Headers         map[string]string `yaml:"headers"`
	BodyTemplate    string            `yaml:"body_template"`
	RequestTimeout  Duration          `yaml:"request_timeout"`
	ReAlertInterval Duration          `yaml:"re_alert_interval"`
	Wallets         []MonitoredWalletConfig `yaml:"wallets"`
}

// MonitoredWalletConfig is one signer wallet to watch, with its own
// low-balance threshold since chains' native units differ wildly.
type MonitoredWalletConfig struct {
	Network   string  `yaml:"network"`
	Address   string  `yaml:"address"`
	Threshold float64 `yaml:"threshold"`
}

// RateLimitConfig holds rate limiting configuration. Provides multi-tier
// rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-payer rate limiting (identified by the X-Payer header)
	PerPayerEnabled bool     `yaml:"per_payer_enabled"`
	PerPayerLimit   int      `yaml:"per_payer_limit"`
	PerPayerWindow  Duration `yaml:"per_payer_window"`

	// Per-IP rate limiting (fallback when payer not identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig holds API key authentication and tier configuration.
// Allows trusted partners to bypass rate limits via X-API-Key header.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"` // Enable API key authentication (default: false)
	Keys    map[string]string `yaml:"keys"`    // Map of API key -> tier (free, pro, enterprise, partner)
}

// CircuitBreakerConfig holds circuit breaker configuration for every
// isolated external service. Prevents a stuck RPC node or compliance
// feed from cascading into failures elsewhere.
type CircuitBreakerConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	EVMRPC         BreakerServiceConfig `yaml:"evm_rpc"`
	SolanaRPC      BreakerServiceConfig `yaml:"solana_rpc"`
	NearRPC        BreakerServiceConfig `yaml:"near_rpc"`
	StellarRPC     BreakerServiceConfig `yaml:"stellar_rpc"`
	ComplianceFeed BreakerServiceConfig `yaml:"compliance_feed"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}
