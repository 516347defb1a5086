package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	taxerrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/rpcutil"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// verifyFHE routes an fhe-transfer envelope to the configured FHERouter
// instead of dispatching to a Provider. The cross-field consistency checks
// a Provider path runs don't apply here — the confidential-compute endpoint
// owns its own validation, since the facilitator never sees plaintext
// amounts or balances for this scheme.
func (f *Facilitator) verifyFHE(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	if f.fheRouter == nil {
		return protocol.InvalidVerifyResponse(string(taxerrors.InvalidScheme), nil), nil
	}
	resp, err := f.fheRouter.Verify(ctx, req, payload)
	if err != nil {
		code := f.classify(err, taxerrors.UnexpectedVerifyError)
		return protocol.InvalidVerifyResponse(string(code), nil), nil
	}
	return resp, nil
}

// settleFHE is the settle-side counterpart of verifyFHE.
func (f *Facilitator) settleFHE(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	if f.fheRouter == nil {
		return protocol.FailedSettleResponse(string(taxerrors.InvalidScheme), nil, req.Network), nil
	}
	resp, err := f.fheRouter.Settle(ctx, req, payload)
	if err != nil {
		code := f.classify(err, taxerrors.UnexpectedSettleError)
		return protocol.FailedSettleResponse(string(code), nil, req.Network), nil
	}
	return resp, nil
}

// HTTPFHERouter is the default FHERouter: it forwards the envelope verbatim
// to an external confidential-compute facilitator over HTTP and decodes its
// response into the standard schema. It never interprets the payload
// itself — it is a thin, retried transport. Its calls pass through the
// breaker manager under ServiceFHETransfer, but NewManager creates no
// breaker for that service, so they are never short-circuited.
type HTTPFHERouter struct {
	client  *http.Client
	baseURL string
	breaker *circuitbreaker.Manager
	logger  zerolog.Logger
}

// NewHTTPFHERouter builds an HTTPFHERouter. baseURL is the confidential-
// compute facilitator's root, e.g. "https://fhe.example.com".
func NewHTTPFHERouter(baseURL string, timeout time.Duration, breaker *circuitbreaker.Manager, logger zerolog.Logger) *HTTPFHERouter {
	return &HTTPFHERouter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		breaker: breaker,
		logger:  logger.With().Str("component", "fhe_router").Logger(),
	}
}

type fheEnvelope struct {
	Requirements protocol.PaymentRequirements `json:"payment_requirements"`
	Payload      protocol.PaymentPayload      `json:"payment_payload"`
}

// Verify forwards to POST {baseURL}/verify.
func (h *HTTPFHERouter) Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	var resp protocol.VerifyResponse
	err := h.post(ctx, "/verify", fheEnvelope{Requirements: req, Payload: payload}, &resp)
	return resp, err
}

// Settle forwards to POST {baseURL}/settle.
func (h *HTTPFHERouter) Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	var resp protocol.SettleResponse
	err := h.post(ctx, "/settle", fheEnvelope{Requirements: req, Payload: payload}, &resp)
	return resp, err
}

func (h *HTTPFHERouter) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return taxerrors.New(taxerrors.InvalidPayload, err)
	}

	do := func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("fhe router: %s returned %d", path, resp.StatusCode)
		}
		return raw, nil
	}

	raw, err := h.breaker.Execute(circuitbreaker.ServiceFHETransfer, func() (interface{}, error) {
		return rpcutil.WithRetry(ctx, func() ([]byte, error) {
			return do()
		})
	})
	// Transport and decode failures stay unclassified so verifyFHE and
	// settleFHE apply their own unexpected_* fallback code.
	if err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("fhe router request failed")
		return err
	}

	if err := json.Unmarshal(raw.([]byte), out); err != nil {
		return err
	}
	return nil
}
