// Package solana implements the facilitator.Provider contract for the
// Solana family (Solana mainnet/devnet and Fogo, which is SVM-compatible
// and reuses this provider under protocol.FamilySolana). It decodes a
// client-submitted transaction containing exactly one SPL token transfer,
// validates it against the declared payment requirements, and — on
// settle — co-signs it as its declared fee payer and submits it. The
// transaction is not rebuilt: when its fee payer is not a configured
// facilitator wallet, no signature is added for the fee-payer slot.
package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	taxerrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/rpcutil"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// pollInterval and confirmWindow bound the RPC-polling confirmation loop
// settle uses while waiting for the broadcast transaction to land.
const (
	pollInterval  = 400 * time.Millisecond
	confirmWindow = 60 * time.Second
)

// Provider implements facilitator.Provider for protocol.FamilySolana.
type Provider struct {
	rpcClient *rpc.Client
	networks  []protocol.Network
	breaker   *circuitbreaker.Manager
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	signers     []solana.PrivateKey
	signerIndex atomic.Uint64
}

// Config carries everything needed to construct a Provider.
type Config struct {
	RPCURL   string
	Networks []protocol.Network
	Signers  []solana.PrivateKey
	Breaker  *circuitbreaker.Manager
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// New builds a Provider. At least one signer is required — settle has no
// fee payer to co-sign with otherwise.
func New(cfg Config) (*Provider, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("providers/solana: rpc url required")
	}
	if len(cfg.Signers) == 0 {
		return nil, errors.New("providers/solana: at least one signer wallet required")
	}
	return &Provider{
		rpcClient: rpc.New(cfg.RPCURL),
		networks:  cfg.Networks,
		breaker:   cfg.Breaker,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "solana_provider").Logger(),
		signers:   cfg.Signers,
	}, nil
}

// Networks implements facilitator.Provider.
func (p *Provider) Networks() []protocol.Network { return p.networks }

// SignerAddresses implements facilitator.Provider.
func (p *Provider) SignerAddresses() []protocol.MixedAddress {
	out := make([]protocol.MixedAddress, 0, len(p.signers))
	for _, s := range p.signers {
		addr, err := protocol.ParseAddress(protocol.FamilySolana, s.PublicKey().String())
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// nextSigner picks the next facilitator wallet round-robin, mirroring the
// teacher's load-distribution strategy without its health-checker (no
// wallet-health subsystem is wired into this provider; internal/
// walletmonitor covers low-balance alerting independently).
func (p *Provider) nextSigner() solana.PrivateKey {
	idx := p.signerIndex.Add(1) % uint64(len(p.signers))
	return p.signers[idx]
}

func (p *Provider) findSigner(pubkey solana.PublicKey) (solana.PrivateKey, bool) {
	for _, s := range p.signers {
		if s.PublicKey().Equals(pubkey) {
			return s, true
		}
	}
	return solana.PrivateKey{}, false
}

// decodedTransfer is the single SPL transfer instruction a payload must
// contain, plus the transaction it was found in.
type decodedTransfer struct {
	tx          *solana.Transaction
	owner       solana.PublicKey
	destination solana.PublicKey
	mint        solana.PublicKey
	amount      uint64
}

// decodeExactlyOneTransfer decodes the base64 transaction and enforces the
// boundary rule that exactly one SPL-token transfer instruction (Transfer
// or TransferChecked) may appear anywhere in it — a second transfer
// instruction, even to an unrelated account, is rejected outright rather
// than silently ignored, since it could move additional funds the payer
// never intended to authorize for this specific payment.
func decodeExactlyOneTransfer(rawBase64 string) (*decodedTransfer, error) {
	tx, err := solana.TransactionFromBase64(rawBase64)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, errors.New("transaction missing account keys")
	}

	var found *decodedTransfer
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		programID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !programID.Equals(solana.TokenProgramID) {
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			continue
		}
		decoded, err := token.DecodeInstruction(accounts, []byte(inst.Data))
		if err != nil {
			continue
		}

		var candidate *decodedTransfer
		switch ins := decoded.Impl.(type) {
		case *token.Transfer:
			if ins.Amount == nil {
				return nil, errors.New("transfer instruction missing amount")
			}
			candidate = &decodedTransfer{
				tx:          tx,
				owner:       ins.GetOwnerAccount().PublicKey,
				destination: ins.GetDestinationAccount().PublicKey,
				amount:      *ins.Amount,
			}
		case *token.TransferChecked:
			if ins.Amount == nil {
				return nil, errors.New("transferChecked instruction missing amount")
			}
			candidate = &decodedTransfer{
				tx:          tx,
				owner:       ins.GetOwnerAccount().PublicKey,
				destination: ins.GetDestinationAccount().PublicKey,
				mint:        ins.GetMintAccount().PublicKey,
				amount:      *ins.Amount,
			}
		default:
			continue
		}

		if found != nil {
			return nil, errors.New("transaction contains more than one SPL token transfer")
		}
		found = candidate
	}

	if found == nil {
		return nil, errors.New("no SPL token transfer instruction found")
	}
	return found, nil
}

// ExtractPayer implements facilitator.Provider.
func (p *Provider) ExtractPayer(payload protocol.PaymentPayload) (protocol.MixedAddress, error) {
	if payload.Solana == nil {
		return protocol.MixedAddress{}, errors.New("providers/solana: payload missing solana variant")
	}
	transfer, err := decodeExactlyOneTransfer(payload.Solana.Transaction)
	if err != nil {
		return protocol.MixedAddress{}, err
	}
	return protocol.ParseAddress(protocol.FamilySolana, transfer.owner.String())
}

// validate decodes and checks payload against req, returning the decoded
// transfer for a valid payload or a taxonomy error otherwise. Both Verify
// and Settle call this — Settle never trusts a prior Verify result.
func (p *Provider) validate(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (*decodedTransfer, error) {
	if payload.Solana == nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("missing solana payload"))
	}

	transfer, err := decodeExactlyOneTransfer(payload.Solana.Transaction)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	mint, err := solana.PublicKeyFromBase58(req.Asset.String())
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("invalid asset mint: %w", err))
	}
	owner, err := solana.PublicKeyFromBase58(req.PayTo.String())
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("invalid pay_to: %w", err))
	}
	expectedDestination, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if !transfer.destination.Equals(expectedDestination) {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("transfer destination %s does not match expected token account %s", transfer.destination, expectedDestination))
	}
	if !transfer.mint.IsZero() && !transfer.mint.Equals(mint) {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("transferChecked mint mismatch"))
	}

	required := req.MaxAmountRequired
	got := protocol.AmountFromUint64(transfer.amount)
	if !got.GreaterThanOrEqual(required) {
		return nil, taxerrors.New(taxerrors.InsufficientFunds, fmt.Errorf("amount %s < required %s", got.String(), required.String()))
	}

	return transfer, nil
}

// Verify implements facilitator.Provider. It is read-only: it simulates
// the transaction rather than submitting it.
func (p *Provider) Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	transfer, err := p.validate(ctx, req, payload)
	if err != nil {
		return protocol.VerifyResponse{}, err
	}

	payerAddr, err := protocol.ParseAddress(protocol.FamilySolana, transfer.owner.String())
	if err != nil {
		return protocol.VerifyResponse{}, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	start := time.Now()
	_, simErr := p.rpcClient.SimulateTransaction(ctx, transfer.tx)
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("SimulateTransaction", string(req.Network), time.Since(start), simErr)
	}
	if simErr != nil {
		if isInsufficientFundsError(simErr) {
			return protocol.VerifyResponse{}, taxerrors.New(taxerrors.InsufficientFunds, simErr)
		}
		return protocol.VerifyResponse{}, taxerrors.New(taxerrors.UnexpectedVerifyError, simErr)
	}

	return protocol.ValidVerifyResponse(payerAddr), nil
}

// Settle implements facilitator.Provider: re-validate, co-sign as the
// transaction's declared fee payer, submit, and poll for confirmation.
// The transaction is not rebuilt; when its fee payer is not a configured
// signer, the next signer's key signs but does not cover the fee-payer slot.
func (p *Provider) Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	transfer, err := p.validate(ctx, req, payload)
	if err != nil {
		return protocol.SettleResponse{}, err
	}

	payerAddr, err := protocol.ParseAddress(protocol.FamilySolana, transfer.owner.String())
	if err != nil {
		return protocol.SettleResponse{}, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	feePayer := transfer.tx.Message.AccountKeys[0]
	signer, ok := p.findSigner(feePayer)
	if !ok {
		signer = p.nextSigner()
		p.logger.Warn().
			Str("declared_fee_payer", feePayer.String()).
			Str("assigned_fee_payer", signer.PublicKey().String()).
			Msg("transaction fee payer does not match a configured signer; signing with the next signer")
	}

	if _, err := transfer.tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	}); err != nil {
		return protocol.SettleResponse{}, taxerrors.New(taxerrors.UnexpectedSettleError, fmt.Errorf("co-sign: %w", err))
	}

	send := func() (solana.Signature, error) {
		return p.sendWithCircuitBreaker(ctx, transfer.tx, req.Network)
	}
	sig, err := rpcutil.WithRetry(ctx, send)
	if err != nil {
		if isInsufficientFundsError(err) {
			return protocol.FailedSettleResponse(string(taxerrors.InsufficientFunds), &payerAddr, req.Network), nil
		}
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &payerAddr, req.Network), nil
	}

	if err := p.awaitConfirmation(ctx, sig); err != nil {
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &payerAddr, req.Network), nil
	}

	return protocol.SuccessfulSettleResponse(payerAddr, sig.String(), req.Network), nil
}

func (p *Provider) sendWithCircuitBreaker(ctx context.Context, tx *solana.Transaction, network protocol.Network) (solana.Signature, error) {
	start := time.Now()
	result, err := p.breaker.Execute(circuitbreaker.ServiceSolanaRPC, func() (interface{}, error) {
		return p.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{})
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("SendTransaction", string(network), time.Since(start), err)
	}
	if err != nil {
		return solana.Signature{}, err
	}
	return result.(solana.Signature), nil
}

// awaitConfirmation polls GetSignatureStatuses until the transaction lands
// or confirmWindow elapses. A WebSocket subscription would confirm faster
// but isn't worth a second long-lived connection lifecycle here.
func (p *Provider) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(confirmWindow)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			statuses, err := p.rpcClient.GetSignatureStatuses(ctx, true, sig)
			if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
				st := statuses.Value[0]
				if st.Err != nil {
					return fmt.Errorf("transaction failed: %v", st.Err)
				}
				if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}
			if time.Now().After(deadline) {
				return errors.New("confirmation timed out")
			}
		}
	}
}

func isInsufficientFundsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return containsAny(msg, "insufficient funds", "insufficient lamports", "0x1")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
