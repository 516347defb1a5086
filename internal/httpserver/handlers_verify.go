package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/protocol"
	"github.com/x402fac/facilitator/pkg/responders"
)

type verifyRequest struct {
	PaymentRequirements protocol.PaymentRequirements `json:"payment_requirements"`
	PaymentPayload      protocol.PaymentPayload      `json:"payment_payload"`
}

// verify handles POST /verify. Per the x402 contract, a structurally
// recognizable request always returns 200 with is_valid describing the
// outcome — HTTP-level errors are reserved for malformed JSON.
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	var req verifyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("verify.invalid_request")
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	resp, _ := h.core.Verify(r.Context(), req.PaymentRequirements, req.PaymentPayload)

	if h.metrics != nil {
		h.metrics.ObserveVerify(string(req.PaymentRequirements.Network), string(req.PaymentRequirements.Scheme), resp.IsValid, resp.Reason, time.Since(start))
	}
	if h.audit != nil {
		payer := ""
		if resp.Payer != nil {
			payer = resp.Payer.String()
		}
		_ = h.audit.Append(r.Context(), auditRecordFromVerify(req, resp, payer))
	}

	responders.JSON(w, http.StatusOK, resp)
}
