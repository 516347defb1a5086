package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/x402fac/facilitator/internal/auditlog"
	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/config"
	"github.com/x402fac/facilitator/pkg/facilitator"
	"github.com/x402fac/facilitator/pkg/protocol"
)

const testPayer = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
const testPayTo = "0x111111111111111111111111111111111111111A"

type fakeProvider struct {
	networks   []protocol.Network
	payer      protocol.MixedAddress
	verifyResp protocol.VerifyResponse
	settleResp protocol.SettleResponse
}

func (f *fakeProvider) ExtractPayer(protocol.PaymentPayload) (protocol.MixedAddress, error) {
	return f.payer, nil
}
func (f *fakeProvider) Verify(context.Context, protocol.PaymentRequirements, protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	return f.verifyResp, nil
}
func (f *fakeProvider) Settle(context.Context, protocol.PaymentRequirements, protocol.PaymentPayload) (protocol.SettleResponse, error) {
	return f.settleResp, nil
}
func (f *fakeProvider) Networks() []protocol.Network            { return f.networks }
func (f *fakeProvider) SignerAddresses() []protocol.MixedAddress { return []protocol.MixedAddress{f.payer} }

func testAddr(t *testing.T, addr string) protocol.MixedAddress {
	t.Helper()
	a, err := protocol.ParseAddress(protocol.FamilyEVM, addr)
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, provider *fakeProvider) *Server {
	t.Helper()
	registry, err := facilitator.Build(provider)
	require.NoError(t, err)
	core := facilitator.New(registry, nil, nil, nil, zerolog.Nop())

	cfg := &config.Config{}
	cfg.Server.Address = "127.0.0.1:0"

	breaker := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	return New(cfg, core, auditlog.NewNoopLog(zerolog.Nop()), breaker, nil, zerolog.Nop())
}

func TestVerify_ReturnsValidResponse(t *testing.T) {
	payer := testAddr(t, testPayer)
	provider := &fakeProvider{
		networks:   []protocol.Network{protocol.NetworkBaseSepolia},
		payer:      payer,
		verifyResp: protocol.ValidVerifyResponse(payer),
	}
	s := newTestServer(t, provider)

	body := `{"payment_requirements":{"scheme":"exact","network":"base-sepolia","asset":"` + testPayTo + `","max_amount_required":"1000","pay_to":"` + testPayTo + `"},"payment_payload":{"x402_version":1,"scheme":"exact","network":"base-sepolia","evm":{"from":"` + testPayer + `","to":"` + testPayTo + `","value":"1000","nonce":"0xabc","signature":"0xdef"}}}`
	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"is_valid":true`)
}

func TestSettle_ReturnsSuccessResponse(t *testing.T) {
	payer := testAddr(t, testPayer)
	provider := &fakeProvider{
		networks:   []protocol.Network{protocol.NetworkBaseSepolia},
		payer:      payer,
		settleResp: protocol.SuccessfulSettleResponse(payer, "0xhash", protocol.NetworkBaseSepolia),
	}
	s := newTestServer(t, provider)

	body := `{"payment_requirements":{"scheme":"exact","network":"base-sepolia","asset":"` + testPayTo + `","max_amount_required":"1000","pay_to":"` + testPayTo + `"},"payment_payload":{"x402_version":1,"scheme":"exact","network":"base-sepolia","evm":{"from":"` + testPayer + `","to":"` + testPayTo + `","value":"1000","nonce":"0xabc","signature":"0xdef"}}}`
	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()

	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)
	require.Contains(t, rec.Body.String(), `"transaction_hash":"0xhash"`)
}

func TestVerify_RejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t, &fakeProvider{networks: []protocol.Network{protocol.NetworkBaseSepolia}})

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_ReportsOKWhenBreakersClosed(t *testing.T) {
	s := newTestServer(t, &fakeProvider{networks: []protocol.Network{protocol.NetworkBaseSepolia}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSupported_ListsRegisteredNetworks(t *testing.T) {
	s := newTestServer(t, &fakeProvider{networks: []protocol.Network{protocol.NetworkBaseSepolia}})

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `base-sepolia`)
}

func TestMetrics_RequiresAdminKeyWhenConfigured(t *testing.T) {
	payer := testAddr(t, testPayer)
	registry, err := facilitator.Build(&fakeProvider{networks: []protocol.Network{protocol.NetworkBaseSepolia}, payer: payer})
	require.NoError(t, err)
	core := facilitator.New(registry, nil, nil, nil, zerolog.Nop())

	cfg := &config.Config{}
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.AdminMetricsAPIKey = "secret"

	breaker := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	s := New(cfg, core, auditlog.NewNoopLog(zerolog.Nop()), breaker, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}
