package httpserver

import (
	"net/http"
	"time"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/pkg/responders"
)

type healthResponse struct {
	Status          string            `json:"status"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	CircuitBreakers map[string]string `json:"circuit_breakers,omitempty"`
}

var monitoredServices = []circuitbreaker.ServiceType{
	circuitbreaker.ServiceEVMRPC,
	circuitbreaker.ServiceSolanaRPC,
	circuitbreaker.ServiceNearRPC,
	circuitbreaker.ServiceStellarRPC,
	circuitbreaker.ServiceComplianceFeed,
	circuitbreaker.ServiceFHETransfer,
}

// health handles GET /health. Reports "degraded" when any circuit
// breaker has tripped open, but always returns 200 — callers should poll
// circuit_breakers for detail rather than branch on status code.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string, len(monitoredServices))
	status := "ok"
	for _, svc := range monitoredServices {
		state := h.breaker.State(svc)
		states[string(svc)] = state
		if state == "open" {
			status = "degraded"
		}
	}

	responders.JSON(w, http.StatusOK, healthResponse{
		Status:          status,
		UptimeSeconds:   int64(time.Since(serverStartTime).Seconds()),
		CircuitBreakers: states,
	})
}
