package facilitator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/compliance"
	taxerrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/tokenregistry"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// FHERouter forwards a fhe-transfer envelope to an external confidential-
// compute endpoint and translates its response into the standard schema.
// Networks served by an ordinary Provider never reach it.
type FHERouter interface {
	Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error)
	Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error)
}

// Facilitator is the network-agnostic orchestrator. It owns no chain logic;
// it validates envelope shape, screens the parties for compliance, resolves
// the provider for the declared network, and delegates.
type Facilitator struct {
	registry  *Registry
	tokens    *tokenregistry.Registry
	screener  *compliance.Screener
	fheRouter FHERouter
	logger    zerolog.Logger
}

// New builds a Facilitator. fheRouter may be nil if the deployment does not
// support the fhe-transfer scheme — envelopes naming it are then rejected
// with InvalidScheme instead of being routed.
func New(registry *Registry, tokens *tokenregistry.Registry, screener *compliance.Screener, fheRouter FHERouter, logger zerolog.Logger) *Facilitator {
	return &Facilitator{
		registry:  registry,
		tokens:    tokens,
		screener:  screener,
		fheRouter: fheRouter,
		logger:    logger.With().Str("component", "facilitator").Logger(),
	}
}

// Verify runs the read-only verification path: parse, cross-field checks,
// compliance screening, dispatch. It never submits a transaction.
func (f *Facilitator) Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	if payload.Scheme == protocol.SchemeFHETransfer {
		return f.verifyFHE(ctx, req, payload)
	}

	provider, payer, taxErr := f.prepare(ctx, req, payload, taxerrors.UnexpectedVerifyError)
	if taxErr != nil {
		return protocol.InvalidVerifyResponse(string(taxErr.Code), payerPtr(payer)), nil
	}

	resp, err := provider.Verify(ctx, req, payload)
	if err != nil {
		code := f.classify(err, taxerrors.UnexpectedVerifyError)
		return protocol.InvalidVerifyResponse(string(code), payerPtr(payer)), nil
	}
	return resp, nil
}

// Settle runs the side-effectful settlement path. It never trusts a prior
// Verify call: every check Verify performs, Settle performs again, fresh,
// including compliance screening, before the provider is allowed to submit
// anything on-chain.
func (f *Facilitator) Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	if payload.Scheme == protocol.SchemeFHETransfer {
		return f.settleFHE(ctx, req, payload)
	}

	provider, payer, taxErr := f.prepare(ctx, req, payload, taxerrors.UnexpectedSettleError)
	if taxErr != nil {
		return protocol.FailedSettleResponse(string(taxErr.Code), payerPtr(payer), req.Network), nil
	}

	resp, err := provider.Settle(ctx, req, payload)
	if err != nil {
		code := f.classify(err, taxerrors.UnexpectedSettleError)
		return protocol.FailedSettleResponse(string(code), payerPtr(payer), req.Network), nil
	}
	return resp, nil
}

// Supported lists every (scheme, network) pair a currently-resolvable
// provider serves, for GET /supported. CAIP-2 dual-listing is the caller's
// responsibility (internal/versioning gates it); this always returns the
// legacy form.
func (f *Facilitator) Supported() []protocol.SupportedKind {
	networks := f.registry.Networks()
	out := make([]protocol.SupportedKind, 0, len(networks))
	for _, n := range networks {
		out = append(out, protocol.SupportedKind{
			X402Version: 1,
			Scheme:      protocol.SchemeExact,
			Network:     n,
		})
	}
	if f.fheRouter != nil {
		for _, n := range networks {
			out = append(out, protocol.SupportedKind{
				X402Version: 1,
				Scheme:      protocol.SchemeFHETransfer,
				Network:     n,
			})
		}
	}
	return out
}

// Signers exposes the registry's signer map for GET /supported and wallet
// balance monitoring.
func (f *Facilitator) Signers() map[protocol.Network][]protocol.MixedAddress {
	return f.registry.Signers()
}

// prepare runs every check shared by Verify and Settle: scheme/network
// recognition, cross-field consistency between payload/requirements/asset,
// provider resolution, and compliance screening. It returns the provider to
// dispatch to and the decoded payer (for inclusion in either response
// shape), or a taxonomy error if any check fails. unexpectedFallback is the
// code used when the compliance screener itself fails (transport error or a
// required source unreachable) — Verify passes UnexpectedVerifyError,
// Settle passes UnexpectedSettleError, so a screener failure on either path
// reports its own error_reason instead of always reading "verify".
func (f *Facilitator) prepare(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload, unexpectedFallback taxerrors.Code) (Provider, protocol.MixedAddress, *taxerrors.Error) {
	var zeroPayer protocol.MixedAddress

	if payload.Scheme != protocol.SchemeExact || req.Scheme != protocol.SchemeExact {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidScheme, nil)
	}

	if !protocol.IsKnown(payload.Network) || payload.Network != req.Network {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidNetwork, nil)
	}

	provider, ok := f.registry.Resolve(payload.Network)
	if !ok {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidNetwork, nil)
	}

	netFamily, err := protocol.FamilyOf(payload.Network)
	if err != nil {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidNetwork, err)
	}

	variantFamily, err := payload.InnerVariantFamily()
	if err != nil {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidPayload, err)
	}
	if variantFamily != netFamily {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidPayload, nil)
	}

	if req.PayTo.Family() != netFamily {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidPayload, nil)
	}
	if req.Asset.Family() != netFamily {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidPayload, nil)
	}

	if f.tokens != nil {
		if _, err := f.tokens.Resolve(ctx, payload.Network, req.Asset.String()); err != nil {
			return nil, zeroPayer, taxerrors.New(taxerrors.InvalidPayload, err)
		}
	}

	payer, err := provider.ExtractPayer(payload)
	if err != nil {
		return nil, zeroPayer, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	if f.screener != nil {
		result, err := f.screener.Screen(ctx, []protocol.MixedAddress{payer, req.PayTo})
		if err != nil {
			return nil, payer, taxerrors.New(unexpectedFallback, err)
		}
		if result.Decision == compliance.Block {
			f.logger.Warn().
				Str("payer", payer.String()).
				Str("pay_to", req.PayTo.String()).
				Interface("hits", result.Hits).
				Msg("compliance screening blocked payment")
			return nil, payer, taxerrors.New(taxerrors.BlockedAddress, nil)
		}
	}

	return provider, payer, nil
}

// classify maps a provider error to a taxonomy code, falling back to
// fallback when err doesn't already carry one — this is the seam where a
// provider's unmapped error becomes an UnexpectedVerifyError/
// UnexpectedSettleError rather than leaking chain-specific detail.
func (f *Facilitator) classify(err error, fallback taxerrors.Code) taxerrors.Code {
	if taxErr, ok := taxerrors.As(err); ok {
		return taxErr.Code
	}
	f.logger.Error().Err(err).Msg("provider returned unclassified error")
	return fallback
}

func payerPtr(payer protocol.MixedAddress) *protocol.MixedAddress {
	if payer.IsZero() {
		return nil
	}
	return &payer
}
