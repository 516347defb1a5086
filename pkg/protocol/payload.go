package protocol

import (
	"encoding/json"
	"errors"
)

// Scheme is the x402 payment scheme named in the envelope. "exact" covers
// all four first-class chains; "fhe-transfer" is routed to an external
// confidential-compute endpoint rather than dispatched to a local provider.
type Scheme string

const (
	SchemeExact       Scheme = "exact"
	SchemeFHETransfer Scheme = "fhe-transfer"
)

// PaymentRequirements is the server-declared description of what payment a
// resource requires, as advertised in a 402 challenge.
type PaymentRequirements struct {
	Scheme            Scheme          `json:"scheme"`
	Network           Network         `json:"network"`
	Asset             MixedAddress    `json:"asset"`
	MaxAmountRequired TokenAmount     `json:"max_amount_required"`
	PayTo             MixedAddress    `json:"pay_to"`
	MaxTimeoutSeconds int64           `json:"max_timeout_seconds"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mime_type,omitempty"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// EvmExactPayload is the EIP-3009 transferWithAuthorization tuple plus its
// signature. Signature may be a raw 65-byte EOA signature or an
// ERC-6492-wrapped signature carrying counterfactual-deploy calldata; the
// EVM provider distinguishes the two by the ERC-6492 magic suffix.
type EvmExactPayload struct {
	From        MixedAddress `json:"from"`
	To          MixedAddress `json:"to"`
	Value       TokenAmount  `json:"value"`
	ValidAfter  int64        `json:"valid_after"`
	ValidBefore int64        `json:"valid_before"`
	Nonce       string       `json:"nonce"` // 32 bytes, 0x-hex
	Signature   string       `json:"signature"`
}

// SolanaExactPayload carries a base64-encoded serialized transaction signed
// by the payer. The Solana provider rejects any transaction that does not
// contain exactly one SPL-token transfer of the required amount.
type SolanaExactPayload struct {
	Transaction string `json:"transaction"`
}

// NearExactPayload carries a base64+borsh-encoded SignedDelegateAction. The
// NEAR provider rejects any delegate action whose inner actions are not
// exactly one ft_transfer of the required amount.
type NearExactPayload struct {
	SignedDelegateAction string `json:"signed_delegate_action"`
}

// StellarExactPayload carries a base64-XDR SorobanAuthorizationEntry
// authorizing a transfer invocation, plus the ledger sequence it expires at.
type StellarExactPayload struct {
	AuthorizationEntry string `json:"authorization_entry"`
	ExpirationLedger   int64  `json:"expiration_ledger"`
}

// PaymentPayload is the client-signed envelope submitted to verify/settle.
// Exactly one of the Evm/Solana/Near/Stellar fields is populated, selected
// by Network's family; the facilitator core enforces that match before
// dispatching to a provider.
type PaymentPayload struct {
	X402Version int     `json:"x402_version"`
	Scheme      Scheme  `json:"scheme"`
	Network     Network `json:"network"`

	Evm     *EvmExactPayload     `json:"evm,omitempty"`
	Solana  *SolanaExactPayload  `json:"solana,omitempty"`
	Near    *NearExactPayload    `json:"near,omitempty"`
	Stellar *StellarExactPayload `json:"stellar,omitempty"`
}

// InnerVariantFamily reports which Family the populated inner payload
// belongs to, or an error if zero or more than one variant is set.
func (p PaymentPayload) InnerVariantFamily() (Family, error) {
	set := 0
	var fam Family
	if p.Evm != nil {
		set++
		fam = FamilyEVM
	}
	if p.Solana != nil {
		set++
		fam = FamilySolana
	}
	if p.Near != nil {
		set++
		fam = FamilyNear
	}
	if p.Stellar != nil {
		set++
		fam = FamilyStellar
	}
	if set != 1 {
		return "", errInvalidInnerVariant
	}
	return fam, nil
}

var errInvalidInnerVariant = errors.New("protocol: payload must set exactly one inner variant")
