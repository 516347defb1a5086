// Package facilitator implements the network-agnostic x402 verify/settle/
// supported contract. It owns no chain-specific knowledge itself; it
// validates envelope shape, applies compliance screening, resolves a
// Provider from the registry by network, and delegates.
package facilitator

import (
	"context"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// Provider is the capability set a chain family implementation must offer.
// One concrete Provider serves every network in its family that the
// operator has enabled (e.g. a single EvmProvider instance serves
// base-sepolia, polygon, arbitrum, ...).
type Provider interface {
	// ExtractPayer decodes just enough of payload to name the signing
	// party, without RPC round-trips or signature verification. The core
	// uses it to build the address set compliance screening runs against
	// before Verify/Settle are ever called. A payload too malformed to
	// name a payer returns an error; the core treats that the same as a
	// payload that failed Verify with InvalidPayload.
	ExtractPayer(payload protocol.PaymentPayload) (protocol.MixedAddress, error)

	// Verify checks that payload satisfies req without submitting any
	// transaction. It must be free of side effects on external state
	// beyond idempotent RPC reads.
	Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error)

	// Settle re-verifies payload against req and, if valid, submits the
	// settlement transaction. It never trusts a prior Verify call.
	Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error)

	// Networks lists every network this provider instance serves.
	Networks() []protocol.Network

	// SignerAddresses returns the facilitator-controlled addresses this
	// provider submits transactions from, for GET /supported's signers
	// map and for wallet-balance monitoring.
	SignerAddresses() []protocol.MixedAddress
}

// Every Provider method returns either a nil error (success, inspect the
// response value) or one that unwraps to *internal/errors.Error via
// errors.As — the facilitator core never invents a taxonomy code from a
// bare error, it only forwards the one the provider already classified.
