package httpserver

import (
	"encoding/json"
	"io"
	"net/http"

	apierrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// decodeJSON decodes a JSON request body into dest. The reader is closed
// after decoding regardless of outcome.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// authorizationID extracts the scheme-specific replay-protection
// identifier from a payload, for audit-trail correlation. Returns "" for
// an fhe-transfer envelope, which carries no locally-decodable nonce.
func authorizationID(payload protocol.PaymentPayload) string {
	switch {
	case payload.Evm != nil:
		return payload.Evm.Nonce
	case payload.Solana != nil:
		return payload.Solana.Transaction
	case payload.Near != nil:
		return payload.Near.SignedDelegateAction
	case payload.Stellar != nil:
		return payload.Stellar.AuthorizationEntry
	default:
		return ""
	}
}

// respondError writes a closed-taxonomy error for requests that never
// reach the facilitator core (malformed JSON, wrong method) — the core's
// own verify/settle paths always return 200 with a structured outcome.
func respondError(w http.ResponseWriter, status int, message string) {
	code := apierrors.InvalidPayload
	if status >= http.StatusInternalServerError {
		code = apierrors.UnexpectedVerifyError
	}
	apierrors.WriteHTTP(w, code, message, nil)
}
