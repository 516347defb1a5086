package httpserver

import (
	"net/http"

	"github.com/x402fac/facilitator/internal/versioning"
	"github.com/x402fac/facilitator/pkg/protocol"
	"github.com/x402fac/facilitator/pkg/responders"
)

type supportedResponse struct {
	Kinds   []protocol.SupportedKind                `json:"kinds"`
	Signers map[protocol.Network][]protocol.MixedAddress `json:"signers,omitempty"`
}

// supported handles GET /supported. Dual-lists CAIP-2 identifiers
// alongside the legacy network string once the negotiated version
// reaches V2, per the versioning contract negotiated from the Accept
// header.
func (h *handlers) supported(w http.ResponseWriter, r *http.Request) {
	kinds := h.core.Supported()

	if versioning.IncludesCAIP2(versioning.FromContext(r.Context())) {
		dual := make([]protocol.SupportedKind, 0, 2*len(kinds))
		for _, k := range kinds {
			info, err := protocol.Info(k.Network)
			if err == nil {
				k.CAIP2 = info.CAIP2Namespace + ":" + info.CAIP2Reference
			}
			dual = append(dual, k)
			if k.CAIP2 != "" {
				caip2Kind := k
				caip2Kind.Network = protocol.Network(k.CAIP2)
				dual = append(dual, caip2Kind)
			}
		}
		kinds = dual
	}

	responders.JSON(w, http.StatusOK, supportedResponse{
		Kinds:   kinds,
		Signers: h.core.Signers(),
	})
}
