package protocol

// VerifyResponse is the result of a verify() call. Exactly one of Valid or
// Invalid describes the outcome; Reason is populated only when !Valid and
// is drawn from the closed error taxonomy in internal/errors.
type VerifyResponse struct {
	IsValid bool          `json:"is_valid"`
	Payer   *MixedAddress `json:"payer,omitempty"`
	Reason  string        `json:"invalid_reason,omitempty"`
}

// ValidVerifyResponse builds the Valid{payer} variant.
func ValidVerifyResponse(payer MixedAddress) VerifyResponse {
	return VerifyResponse{IsValid: true, Payer: &payer}
}

// InvalidVerifyResponse builds the Invalid{reason, payer?} variant. payer is
// nil when the payload could not be parsed far enough to extract one.
func InvalidVerifyResponse(reason string, payer *MixedAddress) VerifyResponse {
	return VerifyResponse{IsValid: false, Reason: reason, Payer: payer}
}

// SettleResponse is the result of a settle() call.
type SettleResponse struct {
	Success         bool          `json:"success"`
	ErrorReason     string        `json:"error_reason,omitempty"`
	Payer           *MixedAddress `json:"payer,omitempty"`
	TransactionHash string        `json:"transaction_hash,omitempty"`
	Network         Network       `json:"network"`
}

// SuccessfulSettleResponse builds the success variant.
func SuccessfulSettleResponse(payer MixedAddress, txHash string, network Network) SettleResponse {
	return SettleResponse{Success: true, Payer: &payer, TransactionHash: txHash, Network: network}
}

// FailedSettleResponse builds the failure variant.
func FailedSettleResponse(reason string, payer *MixedAddress, network Network) SettleResponse {
	return SettleResponse{Success: false, ErrorReason: reason, Payer: payer, Network: network}
}

// SupportedKind describes one (x402_version, scheme, network) triple the
// facilitator advertises from /supported, in both legacy and CAIP-2 form.
type SupportedKind struct {
	X402Version int     `json:"x402_version"`
	Scheme      Scheme  `json:"scheme"`
	Network     Network `json:"network"`
	CAIP2       string  `json:"caip2,omitempty"`
}
