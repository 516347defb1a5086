// Package walletmonitor generalizes a Solana-only
// BalanceMonitor to poll every operator-listed wallet across all four chain
// families and fire a webhook alert when a wallet drops below its
// configured threshold. It is an ambient operational concern: nothing
// in the verify/settle invariant set depends on it.
package walletmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/httputil"
	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// BalanceFetcher resolves a native-asset balance for one wallet on one
// network. Each provider package implements this for its family (EVM
// wei via eth_getBalance, Solana lamports, NEAR yoctoNEAR, Stellar
// stroops) and registers it with the monitor; walletmonitor itself has
// no chain-specific code.
type BalanceFetcher func(ctx context.Context, network protocol.Network, address string) (balance float64, unit string, err error)

// Wallet is one signer to watch.
type Wallet struct {
	Network   protocol.Network
	Address   string
	Threshold float64
}

// Config configures the monitor's polling and alerting behavior.
type Config struct {
	CheckInterval   time.Duration
	AlertURL        string
	BodyTemplate    string
	Headers         map[string]string
	RequestTimeout  time.Duration
	ReAlertInterval time.Duration
}

// Monitor periodically checks configured wallet balances and sends
// alerts when balances are low.
type Monitor struct {
	cfg        Config
	wallets    []Wallet
	fetchers   map[protocol.Family]BalanceFetcher
	httpClient *http.Client
	logger     zerolog.Logger

	mu          sync.Mutex
	alertedKeys map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Alert describes a wallet that dropped below its threshold.
type Alert struct {
	Network   string    `json:"network"`
	Wallet    string    `json:"wallet"`
	Balance   float64   `json:"balance"`
	Threshold float64   `json:"threshold"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMonitor builds a Monitor watching wallets, resolving balances
// through fetchers keyed by chain family.
func NewMonitor(cfg Config, wallets []Wallet, fetchers map[protocol.Family]BalanceFetcher, logger zerolog.Logger) *Monitor {
	if cfg.ReAlertInterval == 0 {
		cfg.ReAlertInterval = 24 * time.Hour
	}
	return &Monitor{
		cfg:         cfg,
		wallets:     wallets,
		fetchers:    fetchers,
		httpClient:  httputil.NewClient(cfg.RequestTimeout),
		logger:      logger,
		alertedKeys: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the balance monitoring loop.
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.AlertURL == "" {
		m.logger.Info().Msg("wallet_monitor.disabled_no_url")
		return
	}
	if len(m.wallets) == 0 {
		m.logger.Info().Msg("wallet_monitor.no_wallets")
		return
	}

	m.logger.Info().
		Int("wallet_count", len(m.wallets)).
		Dur("check_interval", m.cfg.CheckInterval).
		Msg("wallet_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the monitoring loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("wallet_monitor.stopped")
}

func (m *Monitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.checkBalances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalances(ctx)
		}
	}
}

func (m *Monitor) checkBalances(ctx context.Context) {
	for _, wallet := range m.wallets {
		family, err := protocol.FamilyOf(wallet.Network)
		if err != nil {
			m.logger.Error().Err(err).Str("network", string(wallet.Network)).Msg("wallet_monitor.unknown_network")
			continue
		}
		fetch, ok := m.fetchers[family]
		if !ok {
			m.logger.Warn().Str("family", string(family)).Msg("wallet_monitor.no_fetcher_registered")
			continue
		}

		balance, unit, err := fetch(ctx, wallet.Network, wallet.Address)
		if err != nil {
			m.logger.Error().
				Err(err).
				Str("wallet", logger.TruncateAddress(wallet.Address)).
				Msg("wallet_monitor.fetch_error")
			continue
		}

		m.logger.Debug().
			Str("wallet", logger.TruncateAddress(wallet.Address)).
			Float64("balance", balance).
			Str("unit", unit).
			Msg("wallet_monitor.balance_checked")

		key := string(wallet.Network) + ":" + wallet.Address
		if balance < wallet.Threshold {
			if m.shouldAlert(key) {
				m.sendAlert(ctx, wallet, balance, unit)
			}
		} else {
			m.clearAlert(key)
		}
	}
}

func (m *Monitor) shouldAlert(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastAlert, exists := m.alertedKeys[key]
	if !exists {
		return true
	}
	return time.Since(lastAlert) > m.cfg.ReAlertInterval
}

func (m *Monitor) clearAlert(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alertedKeys, key)
}

func (m *Monitor) sendAlert(ctx context.Context, wallet Wallet, balance float64, unit string) {
	alert := Alert{
		Network:   string(wallet.Network),
		Wallet:    wallet.Address,
		Balance:   balance,
		Threshold: wallet.Threshold,
		Unit:      unit,
		Timestamp: time.Now(),
	}

	body, err := m.renderBody(alert)
	if err != nil {
		m.logger.Error().Err(err).Str("wallet", logger.TruncateAddress(wallet.Address)).Msg("wallet_monitor.body_error")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AlertURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error().Err(err).Msg("wallet_monitor.request_error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range m.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Error().Err(err).Str("wallet", logger.TruncateAddress(wallet.Address)).Msg("wallet_monitor.send_error")
		return
	}
	defer resp.Body.Close()

	key := string(wallet.Network) + ":" + wallet.Address
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.logger.Info().
			Str("wallet", logger.TruncateAddress(wallet.Address)).
			Float64("balance", balance).
			Int("status_code", resp.StatusCode).
			Msg("wallet_monitor.alert_sent")
		m.mu.Lock()
		m.alertedKeys[key] = time.Now()
		m.mu.Unlock()
	} else {
		m.logger.Warn().
			Str("wallet", logger.TruncateAddress(wallet.Address)).
			Int("status_code", resp.StatusCode).
			Msg("wallet_monitor.alert_failed")
	}
}

func (m *Monitor) renderBody(alert Alert) ([]byte, error) {
	if m.cfg.BodyTemplate == "" {
		return json.Marshal(map[string]any{
			"content": fmt.Sprintf(
				"Low balance alert\n\nNetwork: %s\nWallet: %s\nBalance: %.6f %s\nThreshold: %.6f %s",
				alert.Network, alert.Wallet, alert.Balance, alert.Unit, alert.Threshold, alert.Unit,
			),
		})
	}

	tmpl, err := template.New("alert").Parse(m.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}
