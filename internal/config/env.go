package config

import (
	"fmt"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. Scalar
// settings use the FACILITATOR_ prefix for namespace isolation; secrets
// (signer keys) live in their own indexed per-network variables
// (FACILITATOR_SIGNER_<NETWORK>_<N>) so they're easy to inject from a
// secrets manager without touching YAML.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "FACILITATOR_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "FACILITATOR_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "FACILITATOR_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "FACILITATOR_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "FACILITATOR_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "FACILITATOR_ENVIRONMENT")

	// Per-network RPC URL and signer key overrides. Signer keys are never
	// read from YAML; they're loaded exclusively from
	// FACILITATOR_SIGNER_<NETWORK>_1, _2, ... so they never land on disk
	// in a config file.
	for i := range c.Networks {
		net := &c.Networks[i]
		envKey := networkEnvKey(net.Network)
		setIfEnv(&net.RPCURL, "FACILITATOR_RPC_URL_"+envKey)
		setIfEnv(&net.NearAccountID, "FACILITATOR_NEAR_ACCOUNT_ID_"+envKey)
		setIfEnv(&net.HorizonURL, "FACILITATOR_HORIZON_URL_"+envKey)
		net.SignerKeys = loadIndexedEnv("FACILITATOR_SIGNER_" + envKey + "_")
	}

	// NEAR storage-deposit gate
	if v := os.Getenv("FACILITATOR_NEAR_STORAGE_DEPOSIT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Near.StorageDepositLimit = n
		}
	}
	setDurationIfEnv(&c.Near.StorageDepositWindow, "FACILITATOR_NEAR_STORAGE_DEPOSIT_WINDOW")

	// Compliance config
	setIfEnv(&c.Compliance.BlacklistSource, "FACILITATOR_COMPLIANCE_BLACKLIST_SOURCE")
	setIfEnv(&c.Compliance.BlacklistYAMLPath, "FACILITATOR_COMPLIANCE_BLACKLIST_YAML_PATH")
	setIfEnv(&c.Compliance.BlacklistPostgresURL, "FACILITATOR_COMPLIANCE_BLACKLIST_POSTGRES_URL")
	setIfEnv(&c.Compliance.BlacklistPostgresTableName, "FACILITATOR_COMPLIANCE_BLACKLIST_POSTGRES_TABLE")
	setIfEnv(&c.Compliance.BlacklistMongoDBURL, "FACILITATOR_COMPLIANCE_BLACKLIST_MONGODB_URL")
	setIfEnv(&c.Compliance.BlacklistMongoDBDatabase, "FACILITATOR_COMPLIANCE_BLACKLIST_MONGODB_DATABASE")
	setIfEnv(&c.Compliance.BlacklistMongoDBCollection, "FACILITATOR_COMPLIANCE_BLACKLIST_MONGODB_COLLECTION")
	setDurationIfEnv(&c.Compliance.BlacklistCacheTTL, "FACILITATOR_COMPLIANCE_BLACKLIST_CACHE_TTL")

	// Nonce store config
	setIfEnv(&c.NonceStore.Backend, "FACILITATOR_NONCE_STORE_BACKEND")
	setIfEnv(&c.NonceStore.PostgresURL, "FACILITATOR_NONCE_STORE_POSTGRES_URL")
	setIfEnv(&c.NonceStore.PostgresTableName, "FACILITATOR_NONCE_STORE_POSTGRES_TABLE")

	// Token registry config
	setIfEnv(&c.TokenRegistry.Source, "FACILITATOR_TOKEN_REGISTRY_SOURCE")
	setIfEnv(&c.TokenRegistry.YAMLPath, "FACILITATOR_TOKEN_REGISTRY_YAML_PATH")
	setIfEnv(&c.TokenRegistry.PostgresURL, "FACILITATOR_TOKEN_REGISTRY_POSTGRES_URL")
	setIfEnv(&c.TokenRegistry.PostgresTableName, "FACILITATOR_TOKEN_REGISTRY_POSTGRES_TABLE")
	setIfEnv(&c.TokenRegistry.MongoDBURL, "FACILITATOR_TOKEN_REGISTRY_MONGODB_URL")
	setIfEnv(&c.TokenRegistry.MongoDBDatabase, "FACILITATOR_TOKEN_REGISTRY_MONGODB_DATABASE")
	setIfEnv(&c.TokenRegistry.MongoDBCollection, "FACILITATOR_TOKEN_REGISTRY_MONGODB_COLLECTION")
	setDurationIfEnv(&c.TokenRegistry.CacheTTL, "FACILITATOR_TOKEN_REGISTRY_CACHE_TTL")

	// Audit log config
	setBoolIfEnv(&c.AuditLog.Enabled, "FACILITATOR_AUDIT_LOG_ENABLED")
	setIfEnv(&c.AuditLog.PostgresURL, "FACILITATOR_AUDIT_LOG_POSTGRES_URL")
	setIfEnv(&c.AuditLog.TableName, "FACILITATOR_AUDIT_LOG_TABLE")

	// Wallet monitor config
	setBoolIfEnv(&c.WalletMonitor.Enabled, "FACILITATOR_WALLET_MONITOR_ENABLED")
	setIfEnv(&c.WalletMonitor.AlertURL, "FACILITATOR_WALLET_MONITOR_ALERT_URL")
	setDurationIfEnv(&c.WalletMonitor.CheckInterval, "FACILITATOR_WALLET_MONITOR_CHECK_INTERVAL")
	setDurationIfEnv(&c.WalletMonitor.RequestTimeout, "FACILITATOR_WALLET_MONITOR_TIMEOUT")
	setDurationIfEnv(&c.WalletMonitor.ReAlertInterval, "FACILITATOR_WALLET_MONITOR_REALERT_INTERVAL")
	// Load wallet monitor webhook headers (FACILITATOR_WALLET_MONITOR_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "FACILITATOR_WALLET_MONITOR_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "FACILITATOR_WALLET_MONITOR_HEADER_")
		if name == "" {
			continue
		}
		if c.WalletMonitor.Headers == nil {
			c.WalletMonitor.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.WalletMonitor.Headers[headerName] = parts[1]
	}

	// Postgres connection pool config, shared by every Postgres-backed
	// store/repository via internal/dbpool.
	if v := os.Getenv("FACILITATOR_POSTGRES_POOL_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PostgresPool.MaxOpenConns = n
		}
	}
	if v := os.Getenv("FACILITATOR_POSTGRES_POOL_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PostgresPool.MaxIdleConns = n
		}
	}
	setDurationIfEnv(&c.PostgresPool.ConnMaxLifetime, "FACILITATOR_POSTGRES_POOL_CONN_MAX_LIFETIME")

	// API key config
	setBoolIfEnv(&c.APIKey.Enabled, "FACILITATOR_API_KEY_ENABLED")
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "FACILITATOR_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "FACILITATOR_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		// FACILITATOR_API_KEY_PARTNER_ABC123=partner -> key: "partner_abc123", tier: "partner"
		key := strings.ToLower(name)
		tier := strings.TrimSpace(parts[1])
		c.APIKey.Keys[key] = tier
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// loadIndexedEnv loads prefix+"1", prefix+"2", ... until the first gap.
func loadIndexedEnv(prefix string) []string {
	var values []string
	for i := 1; i <= 100; i++ { // reasonable upper limit
		val := os.Getenv(fmt.Sprintf("%s%d", prefix, i))
		if val == "" {
			break
		}
		values = append(values, val)
	}
	return values
}

// networkEnvKey uppercases a protocol.Network value and swaps hyphens for
// underscores so it can appear in an environment variable name, e.g.
// "base-sepolia" -> "BASE_SEPOLIA".
func networkEnvKey(network string) string {
	return strings.ToUpper(strings.ReplaceAll(network, "-", "_"))
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
