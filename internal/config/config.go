package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Near: NearConfig{
			StorageDepositLimit:  5,
			StorageDepositWindow: Duration{Duration: 10 * time.Minute},
		},
		Compliance: ComplianceConfig{
			BlacklistSource:   "yaml",
			BlacklistYAMLPath: "./config/blacklist.yaml",
			BlacklistCacheTTL: Duration{Duration: 5 * time.Minute},
		},
		NonceStore: NonceStoreConfig{
			Backend: "memory",
		},
		TokenRegistry: TokenRegistryConfig{
			Source:   "yaml",
			YAMLPath: "./config/tokens.yaml",
			CacheTTL: Duration{Duration: 5 * time.Minute},
		},
		AuditLog: AuditLogConfig{
			Enabled: false,
		},
		WalletMonitor: WalletMonitorConfig{
			Enabled:         false,
			CheckInterval:   Duration{Duration: 15 * time.Minute},
			Headers:         make(map[string]string),
			RequestTimeout:  Duration{Duration: 5 * time.Second},
			ReAlertInterval: Duration{Duration: 1 * time.Hour},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:   true,
			GlobalLimit:     1000,
			GlobalWindow:    Duration{Duration: 1 * time.Minute},
			PerPayerEnabled: true,
			PerPayerLimit:   60,
			PerPayerWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:    true,
			PerIPLimit:      120,
			PerIPWindow:     Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        true,
			EVMRPC:         defaultBreaker(),
			SolanaRPC:      defaultBreaker(),
			NearRPC:        defaultBreaker(),
			StellarRPC:     defaultBreaker(),
			ComplianceFeed: defaultComplianceBreaker(),
		},
		PostgresPool: PostgresPoolConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
		},
	}
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// defaultComplianceBreaker is more tolerant than an RPC breaker: a
// screening feed hiccup should not take the facilitator offline as
// readily as an RPC node outage would.
func defaultComplianceBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         5,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 60 * time.Second},
		ConsecutiveFailures: 10,
		FailureRatio:        0.7,
		MinRequests:         20,
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
