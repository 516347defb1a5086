package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/x402fac/facilitator/internal/logger"
	"github.com/x402fac/facilitator/pkg/protocol"
	"github.com/x402fac/facilitator/pkg/responders"
)

type settleRequest struct {
	PaymentRequirements protocol.PaymentRequirements `json:"payment_requirements"`
	PaymentPayload      protocol.PaymentPayload      `json:"payment_payload"`
}

// settle handles POST /settle. It tracks in-flight calls in the server's
// WaitGroup so Shutdown can drain pending settlements before the process
// exits.
func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	var req settleRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("settle.invalid_request")
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	h.inFlight.Add(1)
	defer h.inFlight.Done()

	resp, _ := h.core.Settle(r.Context(), req.PaymentRequirements, req.PaymentPayload)

	if h.metrics != nil {
		h.metrics.ObserveSettle(string(req.PaymentRequirements.Network), string(req.PaymentRequirements.Scheme), resp.Success, resp.ErrorReason, time.Since(start))
	}
	if h.audit != nil {
		payer := ""
		if resp.Payer != nil {
			payer = resp.Payer.String()
		}
		_ = h.audit.Append(r.Context(), auditRecordFromSettle(req, resp, payer))
	}

	log.Info().
		Str("network", string(req.PaymentRequirements.Network)).
		Bool("success", resp.Success).
		Str("transaction_hash", resp.TransactionHash).
		Msg("settle.completed")

	responders.JSON(w, http.StatusOK, resp)
}
