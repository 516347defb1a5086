// Command facilitator runs the x402 multi-chain payment facilitator as a
// standalone HTTP service: loads configuration, wires chain providers and
// ambient services, and serves the verify/settle/supported/health contract
// until signaled to shut down.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/auditlog"
	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/compliance"
	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/internal/dbpool"
	"github.com/x402fac/facilitator/internal/httpserver"
	"github.com/x402fac/facilitator/internal/lifecycle"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/noncestore"
	"github.com/x402fac/facilitator/internal/ratelimit"
	"github.com/x402fac/facilitator/internal/tokenregistry"
	"github.com/x402fac/facilitator/internal/walletmonitor"
	"github.com/x402fac/facilitator/pkg/facilitator"
	"github.com/x402fac/facilitator/pkg/protocol"
	evmprovider "github.com/x402fac/facilitator/pkg/providers/evm"
	nearprovider "github.com/x402fac/facilitator/pkg/providers/near"
	solanaprovider "github.com/x402fac/facilitator/pkg/providers/solana"
	stellarprovider "github.com/x402fac/facilitator/pkg/providers/stellar"
)

func main() {
	configPath := os.Getenv("FACILITATOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "facilitator",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("facilitator.shutdown_cleanup_failed")
		}
	}()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{
		Enabled:        cfg.CircuitBreaker.Enabled,
		EVMRPC:         toBreakerConfig(cfg.CircuitBreaker.EVMRPC),
		SolanaRPC:      toBreakerConfig(cfg.CircuitBreaker.SolanaRPC),
		NearRPC:        toBreakerConfig(cfg.CircuitBreaker.NearRPC),
		StellarRPC:     toBreakerConfig(cfg.CircuitBreaker.StellarRPC),
		ComplianceFeed: toBreakerConfig(cfg.CircuitBreaker.ComplianceFeed),
	})

	nonceStore, err := buildNonceStore(cfg, resources)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.build_nonce_store_failed")
	}
	resources.RegisterFunc("nonce-store", nonceStore.Close)

	var tokenDB *sql.DB
	if tokenregistry.Source(cfg.TokenRegistry.Source) == tokenregistry.SourcePostgres {
		tokenDB, err = openSharedPostgres(cfg, resources, "token-registry-db", cfg.TokenRegistry.PostgresURL)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("facilitator.open_token_registry_db_failed")
		}
	}
	tokenRepo, err := tokenregistry.NewRepository(tokenregistry.Options{
		Source:            tokenregistry.Source(cfg.TokenRegistry.Source),
		YAMLPath:          cfg.TokenRegistry.YAMLPath,
		PostgresURL:       cfg.TokenRegistry.PostgresURL,
		PostgresTableName: cfg.TokenRegistry.PostgresTableName,
		MongoDBURL:        cfg.TokenRegistry.MongoDBURL,
		MongoDBDatabase:   cfg.TokenRegistry.MongoDBDatabase,
		MongoDBCollection: cfg.TokenRegistry.MongoDBCollection,
		CacheTTL:          cfg.TokenRegistry.CacheTTL.Duration,
	}, tokenDB)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.build_token_registry_failed")
	}
	resources.Register("token-registry", tokenRepo)
	tokens := tokenregistry.NewRegistry(tokenRepo)

	screener, err := buildScreener(cfg, breaker, appLogger, resources)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.build_compliance_screener_failed")
	}

	auditLog := buildAuditLog(cfg, resources, appLogger)
	resources.RegisterFunc("audit-log", auditLog.Close)

	providers, fetchers, err := buildProviders(cfg, nonceStore, tokens, breaker, metricsCollector, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.build_chain_providers_failed")
	}
	if len(providers) == 0 {
		appLogger.Fatal().Msg("facilitator.no_networks_configured")
	}
	wallets := monitoredWallets(cfg)

	registry, err := facilitator.Build(providers...)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("facilitator.build_provider_registry_failed")
	}

	core := facilitator.New(registry, tokens, screener, nil, appLogger)

	if cfg.WalletMonitor.Enabled && len(wallets) > 0 {
		monitor := walletmonitor.NewMonitor(walletmonitor.Config{
			CheckInterval:   cfg.WalletMonitor.CheckInterval.Duration,
			AlertURL:        cfg.WalletMonitor.AlertURL,
			BodyTemplate:    cfg.WalletMonitor.BodyTemplate,
			Headers:         cfg.WalletMonitor.Headers,
			RequestTimeout:  cfg.WalletMonitor.RequestTimeout.Duration,
			ReAlertInterval: cfg.WalletMonitor.ReAlertInterval.Duration,
		}, wallets, fetchers, appLogger)
		monitorCtx, cancelMonitor := context.WithCancel(context.Background())
		monitor.Start(monitorCtx)
		resources.RegisterFunc("wallet-monitor", func() error {
			cancelMonitor()
			monitor.Stop()
			return nil
		})
	}

	server := httpserver.New(cfg, core, auditLog, breaker, metricsCollector, appLogger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	appLogger.Info().Str("address", cfg.Server.Address).Msg("facilitator.listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal().Err(err).Msg("facilitator.http_server_error")
		}
	case <-ctx.Done():
		appLogger.Info().Msg("facilitator.shutdown_signal_received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error().Err(err).Msg("facilitator.http_server_shutdown_failed")
		}
	}
}

func toBreakerConfig(c config.BreakerServiceConfig) circuitbreaker.BreakerConfig {
	return circuitbreaker.BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// openSharedPostgres opens a Postgres connection pool through
// internal/dbpool, which applies cfg.PostgresPool's tuning (max open/idle
// conns, conn lifetime) instead of leaving the driver's defaults in place,
// and registers it for cleanup on shutdown.
func openSharedPostgres(cfg *config.Config, resources *lifecycle.Manager, label, dsn string) (*sql.DB, error) {
	pool, err := dbpool.NewSharedPool(dsn, cfg.PostgresPool)
	if err != nil {
		return nil, err
	}
	resources.RegisterFunc(label, pool.Close)
	return pool.DB(), nil
}

func buildNonceStore(cfg *config.Config, resources *lifecycle.Manager) (noncestore.Store, error) {
	if cfg.NonceStore.Backend != "postgres" {
		return noncestore.NewMemoryStore(), nil
	}
	db, err := openSharedPostgres(cfg, resources, "nonce-store-db", cfg.NonceStore.PostgresURL)
	if err != nil {
		return nil, err
	}
	return noncestore.NewPostgresStore(db, cfg.NonceStore.PostgresTableName)
}

func buildAuditLog(cfg *config.Config, resources *lifecycle.Manager, appLogger zerolog.Logger) auditlog.Log {
	if !cfg.AuditLog.Enabled || cfg.AuditLog.PostgresURL == "" {
		return auditlog.NewNoopLog(appLogger)
	}
	db, err := openSharedPostgres(cfg, resources, "audit-log-db", cfg.AuditLog.PostgresURL)
	if err != nil {
		appLogger.Warn().Err(err).Msg("facilitator.audit_log_fallback_to_noop")
		return auditlog.NewNoopLog(appLogger)
	}
	log, err := auditlog.NewPostgresLogWithDB(db)
	if err != nil {
		appLogger.Warn().Err(err).Msg("facilitator.audit_log_fallback_to_noop")
		return auditlog.NewNoopLog(appLogger)
	}
	return log
}

// buildScreener assembles the operator blacklist plus any configured
// remote sanctions feeds into a single Screener. The local blacklist is
// always Required; remote feeds honor their own Required flag.
func buildScreener(cfg *config.Config, breaker *circuitbreaker.Manager, appLogger zerolog.Logger, resources *lifecycle.Manager) (*compliance.Screener, error) {
	var repo compliance.Repository
	var err error

	switch cfg.Compliance.BlacklistSource {
	case "postgres":
		db, dbErr := openSharedPostgres(cfg, resources, "compliance-db", cfg.Compliance.BlacklistPostgresURL)
		if dbErr != nil {
			return nil, fmt.Errorf("build blacklist repository: %w", dbErr)
		}
		pgRepo, pgErr := compliance.NewPostgresRepositoryWithDB(db)
		if pgErr == nil && cfg.Compliance.BlacklistPostgresTableName != "" {
			pgRepo, pgErr = pgRepo.WithTableName(cfg.Compliance.BlacklistPostgresTableName)
		}
		repo, err = pgRepo, pgErr
	case "mongodb":
		repo, err = compliance.NewMongoDBRepository(cfg.Compliance.BlacklistMongoDBURL, cfg.Compliance.BlacklistMongoDBDatabase, cfg.Compliance.BlacklistMongoDBCollection)
	default:
		repo, err = compliance.NewYAMLRepository(cfg.Compliance.BlacklistYAMLPath)
	}
	if err != nil {
		return nil, fmt.Errorf("build blacklist repository: %w", err)
	}
	resources.Register("compliance-repository", repo)

	if cfg.Compliance.BlacklistCacheTTL.Duration > 0 {
		repo = compliance.NewCachedRepository(repo, cfg.Compliance.BlacklistCacheTTL.Duration)
	}

	sources := []compliance.ListSource{compliance.NewBackendSource(repo)}
	for _, remote := range cfg.Compliance.RemoteSources {
		sources = append(sources, compliance.NewRemoteSource(remote.Name, remote.BaseURL, breaker, remote.Required, remote.Timeout.Duration))
	}

	return compliance.NewScreener(appLogger, sources...), nil
}

// buildProviders constructs one Provider per enabled chain family,
// grouping the configured networks by family since each family's
// Provider serves every network of that family from one facilitator
// wallet set.
func buildProviders(cfg *config.Config, nonceStore noncestore.Store, tokens *tokenregistry.Registry, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) ([]facilitator.Provider, map[protocol.Family]walletmonitor.BalanceFetcher, error) {
	byFamily := make(map[protocol.Family][]config.NetworkConfig)
	for _, net := range cfg.Networks {
		if !net.Enabled {
			continue
		}
		info, err := protocol.Info(protocol.Network(net.Network))
		if err != nil {
			return nil, nil, fmt.Errorf("network %q: %w", net.Network, err)
		}
		byFamily[info.Family] = append(byFamily[info.Family], net)
	}

	var providers []facilitator.Provider
	fetchers := make(map[protocol.Family]walletmonitor.BalanceFetcher)

	if nets, ok := byFamily[protocol.FamilyEVM]; ok {
		p, fetcher, err := buildEVMProvider(nets, tokens, breaker, metricsCollector, appLogger)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
		fetchers[protocol.FamilyEVM] = fetcher
	}

	if nets, ok := byFamily[protocol.FamilySolana]; ok {
		p, fetcher, err := buildSolanaProvider(nets, breaker, metricsCollector, appLogger)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
		fetchers[protocol.FamilySolana] = fetcher
	}

	if nets, ok := byFamily[protocol.FamilyNear]; ok {
		p, fetcher, err := buildNearProvider(nets, cfg, nonceStore, breaker, metricsCollector, appLogger)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
		fetchers[protocol.FamilyNear] = fetcher
	}

	if nets, ok := byFamily[protocol.FamilyStellar]; ok {
		p, fetcher, err := buildStellarProvider(nets, nonceStore, breaker, metricsCollector, appLogger)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, p)
		fetchers[protocol.FamilyStellar] = fetcher
	}

	return providers, fetchers, nil
}

func buildEVMProvider(nets []config.NetworkConfig, tokens *tokenregistry.Registry, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) (facilitator.Provider, walletmonitor.BalanceFetcher, error) {
	if len(nets) == 0 || nets[0].RPCURL == "" {
		return nil, nil, errors.New("evm: rpc url required for at least one enabled network")
	}
	backend, err := ethclient.Dial(nets[0].RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial rpc: %w", err)
	}

	var networks []protocol.Network
	var signers []*ecdsa.PrivateKey
	seen := make(map[string]bool)
	for _, net := range nets {
		networks = append(networks, protocol.Network(net.Network))
		for _, raw := range net.SignerKeys {
			key, err := gethcrypto.HexToECDSA(trimHexPrefix(raw))
			if err != nil {
				return nil, nil, fmt.Errorf("evm: parse signer key for %s: %w", net.Network, err)
			}
			addr := gethcrypto.PubkeyToAddress(key.PublicKey).Hex()
			if seen[addr] {
				continue
			}
			seen[addr] = true
			signers = append(signers, key)
		}
	}

	p, err := evmprovider.New(evmprovider.Config{
		Backend:  backend,
		Tokens:   tokens,
		Networks: networks,
		Signers:  signers,
		Breaker:  breaker,
		Metrics:  metricsCollector,
		Logger:   appLogger,
	})
	if err != nil {
		return nil, nil, err
	}

	fetcher := func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
		balance, err := backend.BalanceAt(ctx, gethAddress(address), nil)
		if err != nil {
			return 0, "", err
		}
		return weiToEther(balance), "ETH", nil
	}

	return p, fetcher, nil
}

func buildSolanaProvider(nets []config.NetworkConfig, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) (facilitator.Provider, walletmonitor.BalanceFetcher, error) {
	if len(nets) == 0 || nets[0].RPCURL == "" {
		return nil, nil, errors.New("solana: rpc url required")
	}

	var networks []protocol.Network
	var signers []solanago.PrivateKey
	seen := make(map[string]bool)
	for _, net := range nets {
		networks = append(networks, protocol.Network(net.Network))
		for _, raw := range net.SignerKeys {
			key, err := solanago.PrivateKeyFromBase58(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("solana: parse signer key for %s: %w", net.Network, err)
			}
			pub := key.PublicKey().String()
			if seen[pub] {
				continue
			}
			seen[pub] = true
			signers = append(signers, key)
		}
	}

	p, err := solanaprovider.New(solanaprovider.Config{
		RPCURL:   nets[0].RPCURL,
		Networks: networks,
		Signers:  signers,
		Breaker:  breaker,
		Metrics:  metricsCollector,
		Logger:   appLogger,
	})
	if err != nil {
		return nil, nil, err
	}

	// Solana native-balance polling needs an rpc.Client the provider
	// keeps private; the wallet monitor is an ambient concern, not worth
	// exporting provider internals for, so this family reports via the
	// same JSON-RPC getBalance method through a bare client of its own.
	fetcher := solanaBalanceFetcher(nets[0].RPCURL)
	return p, fetcher, nil
}

func buildNearProvider(nets []config.NetworkConfig, cfg *config.Config, nonceStore noncestore.Store, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) (facilitator.Provider, walletmonitor.BalanceFetcher, error) {
	if len(nets) == 0 || nets[0].RPCURL == "" {
		return nil, nil, errors.New("near: rpc url required")
	}
	if nets[0].NearAccountID == "" || len(nets[0].SignerKeys) == 0 {
		return nil, nil, errors.New("near: facilitator account id and signer key required")
	}

	seed, err := decodeEd25519Seed(nets[0].SignerKeys[0])
	if err != nil {
		return nil, nil, fmt.Errorf("near: parse facilitator key: %w", err)
	}

	var networks []protocol.Network
	for _, net := range nets {
		networks = append(networks, protocol.Network(net.Network))
	}

	p, err := nearprovider.New(nearprovider.Config{
		RPCURL:               nets[0].RPCURL,
		FacilitatorAccountID: nets[0].NearAccountID,
		FacilitatorKeySeed:   seed,
		Networks:             networks,
		NonceStore:           nonceStore,
		Breaker:              breaker,
		Metrics:              metricsCollector,
		Logger:               appLogger,
		DepositLimiter: ratelimit.PayerLimiterConfig{
			Limit:  cfg.Near.StorageDepositLimit,
			Window: cfg.Near.StorageDepositWindow.Duration,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	fetcher := nearBalanceFetcher(nets[0].RPCURL)
	return p, fetcher, nil
}

func buildStellarProvider(nets []config.NetworkConfig, nonceStore noncestore.Store, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) (facilitator.Provider, walletmonitor.BalanceFetcher, error) {
	if len(nets) == 0 || nets[0].RPCURL == "" {
		return nil, nil, errors.New("stellar: soroban rpc url required")
	}
	if nets[0].HorizonURL == "" {
		return nil, nil, errors.New("stellar: horizon url required")
	}
	if len(nets[0].SignerKeys) == 0 {
		return nil, nil, errors.New("stellar: facilitator signing seed required")
	}

	var networks []protocol.Network
	for _, net := range nets {
		networks = append(networks, protocol.Network(net.Network))
	}

	p, err := stellarprovider.New(stellarprovider.Config{
		RPCURL:          nets[0].RPCURL,
		HorizonURL:      nets[0].HorizonURL,
		FacilitatorSeed: nets[0].SignerKeys[0],
		Networks:        networks,
		NonceStore:      nonceStore,
		Breaker:         breaker,
		Metrics:         metricsCollector,
		Logger:          appLogger,
	})
	if err != nil {
		return nil, nil, err
	}

	fetcher := stellarBalanceFetcher(nets[0].HorizonURL)
	return p, fetcher, nil
}

// monitoredWallets builds the wallet-monitor watch list directly from
// operator configuration rather than from provider signer sets, so the
// threshold the operator chose for each wallet survives.
func monitoredWallets(cfg *config.Config) []walletmonitor.Wallet {
	wallets := make([]walletmonitor.Wallet, 0, len(cfg.WalletMonitor.Wallets))
	for _, w := range cfg.WalletMonitor.Wallets {
		wallets = append(wallets, walletmonitor.Wallet{
			Network:   protocol.Network(w.Network),
			Address:   w.Address,
			Threshold: w.Threshold,
		})
	}
	return wallets
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func decodeEd25519Seed(raw string) (ed25519.PrivateKey, error) {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(decoded), nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(decoded), nil
	}
	return nil, errors.New("expected a base64-encoded ed25519 seed or private key")
}
