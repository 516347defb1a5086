// Package stellar implements the facilitator.Provider contract for the
// Stellar family via Soroban InvokeHostFunction transfers authorized by a
// client-signed SorobanAuthorizationEntry.
package stellar

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	taxerrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/noncestore"
	"github.com/x402fac/facilitator/pkg/protocol"
)

const (
	finalityBufferLedgers = 3
	pollInterval          = 2 * time.Second
	nonceReserveTTL       = 5 * time.Minute
	txTimeoutSeconds      = 60
)

// Provider implements facilitator.Provider for protocol.FamilyStellar.
type Provider struct {
	rpc      *rpcClient
	horizon  *horizonclient.Client
	nonces   noncestore.Store
	breaker  *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	networks []protocol.Network

	facilitatorKP *keypair.Full

	receiptTimeout time.Duration
}

// Config carries everything needed to construct a Provider.
type Config struct {
	RPCURL             string
	HorizonURL         string
	FacilitatorSeed    string // strkey-encoded secret seed, "S..."
	Networks           []protocol.Network
	NonceStore         noncestore.Store
	Breaker            *circuitbreaker.Manager
	Metrics            *metrics.Metrics
	Logger             zerolog.Logger
	ReceiptTimeout     time.Duration
}

func New(cfg Config) (*Provider, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("providers/stellar: rpc url required")
	}
	if cfg.HorizonURL == "" {
		return nil, errors.New("providers/stellar: horizon url required")
	}
	if cfg.NonceStore == nil {
		return nil, errors.New("providers/stellar: nonce store required")
	}
	kp, err := keypair.ParseFull(cfg.FacilitatorSeed)
	if err != nil {
		return nil, fmt.Errorf("providers/stellar: invalid facilitator seed: %w", err)
	}
	timeout := cfg.ReceiptTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		rpc:            newRPCClient(cfg.RPCURL),
		horizon:        &horizonclient.Client{HorizonURL: cfg.HorizonURL},
		nonces:         cfg.NonceStore,
		breaker:        cfg.Breaker,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With().Str("component", "stellar_provider").Logger(),
		networks:       cfg.Networks,
		facilitatorKP:  kp,
		receiptTimeout: timeout,
	}, nil
}

func (p *Provider) Networks() []protocol.Network { return p.networks }

func (p *Provider) SignerAddresses() []protocol.MixedAddress {
	addr, err := protocol.ParseAddress(protocol.FamilyStellar, p.facilitatorKP.Address())
	if err != nil {
		return nil
	}
	return []protocol.MixedAddress{addr}
}

func (p *Provider) ExtractPayer(payload protocol.PaymentPayload) (protocol.MixedAddress, error) {
	if payload.Stellar == nil {
		return protocol.MixedAddress{}, errors.New("providers/stellar: payload missing stellar variant")
	}
	entry, err := decodeAuthEntry(payload.Stellar.AuthorizationEntry)
	if err != nil {
		return protocol.MixedAddress{}, err
	}
	creds, err := decodeCredentials(entry)
	if err != nil {
		return protocol.MixedAddress{}, err
	}
	return protocol.ParseAddress(protocol.FamilyStellar, creds.Address)
}

type verifiedAuth struct {
	entry      xdr.SorobanAuthorizationEntry
	transfer   transferInvocation
	credentials credentialsInfo
	payer      protocol.MixedAddress
}

func (p *Provider) nonceKey(address string, nonce int64) string {
	return fmt.Sprintf("stellar#%s#%d", address, nonce)
}

func (p *Provider) validate(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (*verifiedAuth, error) {
	if payload.Stellar == nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("missing stellar payload"))
	}
	entry, err := decodeAuthEntry(payload.Stellar.AuthorizationEntry)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	transfer, err := decodeTransferInvocation(entry)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}
	if transfer.ContractID != req.Asset.String() {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("transfer contract does not match required asset"))
	}
	if transfer.To != req.PayTo.String() {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("transfer recipient does not match pay_to"))
	}
	required := req.MaxAmountRequired.BigInt()
	if big.NewInt(transfer.Amount).Cmp(required) != 0 {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("transfer amount %d does not equal required %s", transfer.Amount, required))
	}

	creds, err := decodeCredentials(entry)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}
	if creds.Address != transfer.From {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("credentials address does not match transfer sender"))
	}

	ledger, err := p.breakerLatestLedger(ctx, req.Network)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if creds.ExpirationLedger <= ledger.Sequence+finalityBufferLedgers {
		return nil, taxerrors.New(taxerrors.InvalidTiming, errors.New("authorization expired or too close to expiry"))
	}

	info, err := protocol.Info(req.Network)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidNetwork, err)
	}
	preimage, err := signaturePreimageHash(info.NativeIdentifier, entry)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	valid, err := verifyCredentialsSignature(entry, preimage, creds.Address)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidSignature, err)
	}
	if !valid {
		return nil, taxerrors.New(taxerrors.InvalidSignature, nil)
	}

	nonceKey := p.nonceKey(creds.Address, creds.Nonce)
	outcome, err := p.nonces.CheckAndMarkUsed(ctx, nonceKey, 0)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if outcome == noncestore.AlreadyUsed {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("authorization nonce already used"))
	}
	_ = p.nonces.Release(ctx, nonceKey)

	payerAddr, err := protocol.ParseAddress(protocol.FamilyStellar, creds.Address)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	return &verifiedAuth{entry: entry, transfer: transfer, credentials: creds, payer: payerAddr}, nil
}

func (p *Provider) breakerLatestLedger(ctx context.Context, network protocol.Network) (latestLedgerResult, error) {
	start := time.Now()
	result, err := p.breaker.Execute(circuitbreaker.ServiceStellarRPC, func() (interface{}, error) {
		return p.rpc.getLatestLedger(ctx)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("getLatestLedger", string(network), time.Since(start), err)
	}
	if err != nil {
		return latestLedgerResult{}, err
	}
	return result.(latestLedgerResult), nil
}

func (p *Provider) Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	v, err := p.validate(ctx, req, payload)
	if err != nil {
		return protocol.VerifyResponse{}, err
	}
	return protocol.ValidVerifyResponse(v.payer), nil
}

func (p *Provider) Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	v, err := p.validate(ctx, req, payload)
	if err != nil {
		return protocol.SettleResponse{}, err
	}

	nonceKey := p.nonceKey(v.credentials.Address, v.credentials.Nonce)
	outcome, err := p.nonces.CheckAndMarkUsed(ctx, nonceKey, nonceReserveTTL)
	if err != nil {
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}
	if outcome == noncestore.AlreadyUsed {
		return protocol.FailedSettleResponse(string(taxerrors.InvalidPayload), &v.payer, req.Network), nil
	}

	txHash, submitErr := p.submitAndPoll(ctx, req, v)
	if submitErr != nil {
		if submitErr.preSubmission {
			_ = p.nonces.Release(ctx, nonceKey)
		}
		// Post-submission (on-chain) failures keep the nonce reserved:
		// the authorization was consumed by inclusion even though the
		// invocation itself failed.
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	return protocol.SuccessfulSettleResponse(v.payer, txHash, req.Network), nil
}

type settleError struct {
	err           error
	preSubmission bool
}

func (e *settleError) Error() string { return e.err.Error() }

func (p *Provider) submitAndPoll(ctx context.Context, req protocol.PaymentRequirements, v *verifiedAuth) (string, *settleError) {
	info, err := protocol.Info(req.Network)
	if err != nil {
		return "", &settleError{err: err, preSubmission: true}
	}

	sourceAccount, err := p.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: p.facilitatorKP.Address()})
	if err != nil {
		return "", &settleError{err: fmt.Errorf("load facilitator account: %w", err), preSubmission: true}
	}

	hostFn := xdr.HostFunction{
		Type:           xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
		InvokeContract: v.entry.RootInvocation.Function.ContractFn,
	}
	op := &txnbuild.InvokeHostFunction{
		HostFunction:  hostFn,
		Auth:          []xdr.SorobanAuthorizationEntry{v.entry},
		SourceAccount: p.facilitatorKP.Address(),
	}

	unsignedTx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &sourceAccount,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
	})
	if err != nil {
		return "", &settleError{err: fmt.Errorf("build transaction: %w", err), preSubmission: true}
	}

	envelopeXDR, err := unsignedTx.Base64()
	if err != nil {
		return "", &settleError{err: fmt.Errorf("encode unsigned transaction: %w", err), preSubmission: true}
	}

	signedTx, finalFee, err := p.simulateAndSign(ctx, req.Network, unsignedTx, envelopeXDR, info.NativeIdentifier)
	if err != nil {
		return "", &settleError{err: err, preSubmission: true}
	}
	_ = finalFee

	signedXDR, err := signedTx.Base64()
	if err != nil {
		return "", &settleError{err: fmt.Errorf("encode signed transaction: %w", err), preSubmission: true}
	}

	hash, err := signedTx.HashHex(info.NativeIdentifier)
	if err != nil {
		return "", &settleError{err: fmt.Errorf("compute transaction hash: %w", err), preSubmission: true}
	}

	start := time.Now()
	sendResult, err := p.breaker.Execute(circuitbreaker.ServiceStellarRPC, func() (interface{}, error) {
		return p.rpc.sendTransaction(ctx, signedXDR)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("sendTransaction", string(req.Network), time.Since(start), err)
	}
	if err != nil {
		return "", &settleError{err: err, preSubmission: true}
	}
	sent := sendResult.(sendTransactionResult)
	if sent.Status == "ERROR" {
		return "", &settleError{err: fmt.Errorf("sendTransaction rejected before inclusion"), preSubmission: true}
	}

	status, err := p.awaitOutcome(ctx, req.Network, hash)
	if err != nil {
		return "", &settleError{err: err, preSubmission: false}
	}
	if status != "SUCCESS" {
		return "", &settleError{err: fmt.Errorf("transaction failed on-chain with status %q", status), preSubmission: false}
	}
	return hash, nil
}

// simulateAndSign calls simulateTransaction to obtain the Soroban resource
// footprint and fee, attaches it to the transaction, and signs it.
func (p *Provider) simulateAndSign(ctx context.Context, network protocol.Network, tx *txnbuild.Transaction, unsignedXDR, passphrase string) (*txnbuild.Transaction, int64, error) {
	var simResult struct {
		TransactionData string `json:"transactionData"`
		MinResourceFee  string `json:"minResourceFee"`
		Error           string `json:"error"`
	}
	start := time.Now()
	_, err := p.breaker.Execute(circuitbreaker.ServiceStellarRPC, func() (interface{}, error) {
		return nil, p.rpc.call(ctx, "simulateTransaction", map[string]any{"transaction": unsignedXDR}, &simResult)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("simulateTransaction", string(network), time.Since(start), err)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("simulate transaction: %w", err)
	}
	if simResult.Error != "" {
		return nil, 0, fmt.Errorf("simulation error: %s", simResult.Error)
	}

	var sorobanData xdr.SorobanTransactionData
	raw, err := base64.StdEncoding.DecodeString(simResult.TransactionData)
	if err != nil {
		return nil, 0, fmt.Errorf("decode simulated transaction data: %w", err)
	}
	if err := xdr.SafeUnmarshal(raw, &sorobanData); err != nil {
		return nil, 0, fmt.Errorf("unmarshal simulated transaction data: %w", err)
	}

	envelope, err := tx.ToXDR()
	if err != nil {
		return nil, 0, fmt.Errorf("convert transaction to xdr: %w", err)
	}
	if envelope.V1 == nil {
		return nil, 0, fmt.Errorf("expected v1 transaction envelope")
	}
	envelope.V1.Tx.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}

	resourceFee := int64(0)
	fmt.Sscanf(simResult.MinResourceFee, "%d", &resourceFee)
	envelope.V1.Tx.Fee += xdr.Uint32(resourceFee)

	generic, err := txnbuild.TransactionFromXDR(mustEnvelopeBase64(envelope))
	if err != nil {
		return nil, 0, fmt.Errorf("rebuild transaction from xdr: %w", err)
	}
	rebuilt, ok := generic.Transaction()
	if !ok {
		return nil, 0, fmt.Errorf("rebuilt envelope is not a simple transaction")
	}

	signed, err := rebuilt.Sign(passphrase, p.facilitatorKP)
	if err != nil {
		return nil, 0, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, resourceFee, nil
}

func mustEnvelopeBase64(envelope xdr.TransactionEnvelope) string {
	b64, err := xdr.MarshalBase64(envelope)
	if err != nil {
		panic("providers/stellar: marshal envelope: " + err.Error())
	}
	return b64
}

func (p *Provider) awaitOutcome(ctx context.Context, network protocol.Network, hash string) (string, error) {
	deadline := time.Now().Add(p.receiptTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			start := time.Now()
			result, err := p.breaker.Execute(circuitbreaker.ServiceStellarRPC, func() (interface{}, error) {
				return p.rpc.getTransaction(ctx, hash)
			})
			if p.metrics != nil {
				p.metrics.ObserveRPCCall("getTransaction", string(network), time.Since(start), err)
			}
			if err == nil {
				status := result.(getTransactionResult).Status
				if status == "SUCCESS" || status == "FAILED" {
					return status, nil
				}
			}
			if time.Now().After(deadline) {
				return "", errors.New("transaction outcome wait timed out")
			}
		}
	}
}
