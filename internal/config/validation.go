package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Compliance.BlacklistSource == "" {
		c.Compliance.BlacklistSource = "yaml"
	}
	if c.Compliance.BlacklistCacheTTL.Duration == 0 {
		c.Compliance.BlacklistCacheTTL = Duration{Duration: 5 * time.Minute}
	}
	for i := range c.Compliance.RemoteSources {
		if c.Compliance.RemoteSources[i].Timeout.Duration == 0 {
			c.Compliance.RemoteSources[i].Timeout = Duration{Duration: 3 * time.Second}
		}
	}

	if c.NonceStore.Backend == "" {
		c.NonceStore.Backend = "memory"
	}

	if c.TokenRegistry.Source == "" {
		c.TokenRegistry.Source = "yaml"
	}
	if c.TokenRegistry.CacheTTL.Duration == 0 {
		c.TokenRegistry.CacheTTL = Duration{Duration: 5 * time.Minute}
	}

	if c.WalletMonitor.CheckInterval.Duration <= 0 {
		c.WalletMonitor.CheckInterval = Duration{Duration: 15 * time.Minute}
	}
	if c.WalletMonitor.RequestTimeout.Duration <= 0 {
		c.WalletMonitor.RequestTimeout = Duration{Duration: 5 * time.Second}
	}
	if c.WalletMonitor.ReAlertInterval.Duration <= 0 {
		c.WalletMonitor.ReAlertInterval = Duration{Duration: 1 * time.Hour}
	}
	if c.WalletMonitor.Headers == nil {
		c.WalletMonitor.Headers = make(map[string]string)
	}

	if c.Near.StorageDepositLimit <= 0 {
		c.Near.StorageDepositLimit = 5
	}
	if c.Near.StorageDepositWindow.Duration <= 0 {
		c.Near.StorageDepositWindow = Duration{Duration: 10 * time.Minute}
	}

	if c.APIKey.Keys == nil {
		c.APIKey.Keys = make(map[string]string)
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if len(c.Networks) == 0 {
		errs = append(errs, "networks must configure at least one chain")
	}

	enabledCount := 0
	seen := make(map[string]bool)
	for _, net := range c.Networks {
		if !net.Enabled {
			continue
		}
		enabledCount++

		if net.Network == "" {
			errs = append(errs, "networks entry missing network identifier")
			continue
		}
		if seen[net.Network] {
			errs = append(errs, fmt.Sprintf("networks.%s configured more than once", net.Network))
		}
		seen[net.Network] = true

		if !protocol.IsKnown(protocol.Network(net.Network)) {
			errs = append(errs, fmt.Sprintf("networks.%s is not a known network", net.Network))
			continue
		}
		if net.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("networks.%s.rpc_url is required", net.Network))
		}
		if len(net.SignerKeys) == 0 {
			errs = append(errs, fmt.Sprintf("networks.%s requires at least one signer key (FACILITATOR_SIGNER_%s_1)", net.Network, networkEnvKey(net.Network)))
		}

		family, err := protocol.FamilyOf(protocol.Network(net.Network))
		if err == nil && family == protocol.FamilyNear && net.NearAccountID == "" {
			errs = append(errs, fmt.Sprintf("networks.%s requires near_account_id", net.Network))
		}
	}
	if len(c.Networks) > 0 && enabledCount == 0 {
		errs = append(errs, "no network is enabled; set enabled: true on at least one entry")
	}

	switch c.Compliance.BlacklistSource {
	case "yaml":
		if c.Compliance.BlacklistYAMLPath == "" {
			errs = append(errs, "compliance.blacklist_yaml_path is required when blacklist_source is 'yaml'")
		}
	case "postgres":
		if c.Compliance.BlacklistPostgresURL == "" {
			errs = append(errs, "compliance.blacklist_postgres_url is required when blacklist_source is 'postgres'")
		}
	case "mongodb":
		if c.Compliance.BlacklistMongoDBURL == "" || c.Compliance.BlacklistMongoDBDatabase == "" {
			errs = append(errs, "compliance.blacklist_mongodb_url and blacklist_mongodb_database are required when blacklist_source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("compliance.blacklist_source %q must be 'yaml', 'postgres', or 'mongodb'", c.Compliance.BlacklistSource))
	}
	for i, src := range c.Compliance.RemoteSources {
		if src.Name == "" {
			errs = append(errs, fmt.Sprintf("compliance.remote_sources[%d].name is required", i))
		}
		if src.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("compliance.remote_sources[%d].base_url is required", i))
		}
	}

	switch c.NonceStore.Backend {
	case "memory":
	case "postgres":
		if c.NonceStore.PostgresURL == "" {
			errs = append(errs, "nonce_store.postgres_url is required when backend is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("nonce_store.backend %q must be 'memory' or 'postgres'", c.NonceStore.Backend))
	}

	switch c.TokenRegistry.Source {
	case "yaml":
		if c.TokenRegistry.YAMLPath == "" {
			errs = append(errs, "token_registry.yaml_path is required when source is 'yaml'")
		}
	case "postgres":
		if c.TokenRegistry.PostgresURL == "" {
			errs = append(errs, "token_registry.postgres_url is required when source is 'postgres'")
		}
	case "mongodb":
		if c.TokenRegistry.MongoDBURL == "" || c.TokenRegistry.MongoDBDatabase == "" {
			errs = append(errs, "token_registry.mongodb_url and mongodb_database are required when source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("token_registry.source %q must be 'yaml', 'postgres', or 'mongodb'", c.TokenRegistry.Source))
	}

	if c.AuditLog.Enabled && c.AuditLog.PostgresURL == "" {
		errs = append(errs, "audit_log.postgres_url is required when audit_log.enabled is true")
	}

	if c.WalletMonitor.Enabled {
		if c.WalletMonitor.AlertURL == "" {
			errs = append(errs, "wallet_monitor.alert_url is required when wallet_monitor.enabled is true")
		}
		for i, w := range c.WalletMonitor.Wallets {
			if w.Network == "" || w.Address == "" {
				errs = append(errs, fmt.Sprintf("wallet_monitor.wallets[%d] requires network and address", i))
			}
			if w.Threshold <= 0 {
				errs = append(errs, fmt.Sprintf("wallet_monitor.wallets[%d].threshold must be positive", i))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
