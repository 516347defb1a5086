// Package near implements the facilitator.Provider contract for the NEAR
// family via NEP-366 meta-transactions: the payer signs an inner
// ft_transfer delegate action, and the facilitator wraps it in an outer
// transaction that pays gas (and, for first-time recipients, the token
// contract's storage registration deposit).
package near

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	taxerrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/noncestore"
	"github.com/x402fac/facilitator/internal/ratelimit"
	"github.com/x402fac/facilitator/pkg/protocol"
)

const (
	// finalityBufferBlocks is the margin below a delegate action's
	// max_block_height required for it to still be accepted; NEAR
	// produces blocks roughly once per second, so this bounds worst-case
	// submission latency.
	finalityBufferBlocks = 5

	functionCallGas = uint64(30_000_000_000_000) // 30 Tgas, nearcore's default allowance
	nonceReserveTTL = 2 * time.Minute
)

// Provider implements facilitator.Provider for protocol.FamilyNear.
type Provider struct {
	rpc     *rpcClient
	nonces  noncestore.Store
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger

	networks []protocol.Network

	facilitatorAccountID string
	facilitatorKey       ed25519.PrivateKey
	facilitatorPublicKey [32]byte

	depositLimiter *ratelimit.PayerLimiter
}

// Config carries everything needed to construct a Provider.
type Config struct {
	RPCURL               string
	FacilitatorAccountID string
	FacilitatorKeySeed   ed25519.PrivateKey
	Networks             []protocol.Network
	NonceStore           noncestore.Store
	Breaker              *circuitbreaker.Manager
	Metrics              *metrics.Metrics
	Logger               zerolog.Logger
	DepositLimiter       ratelimit.PayerLimiterConfig
}

// New builds a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("providers/near: rpc url required")
	}
	if cfg.FacilitatorAccountID == "" {
		return nil, errors.New("providers/near: facilitator account id required")
	}
	if len(cfg.FacilitatorKeySeed) != ed25519.PrivateKeySize {
		return nil, errors.New("providers/near: facilitator key must be an ed25519 private key")
	}
	if cfg.NonceStore == nil {
		return nil, errors.New("providers/near: nonce store required")
	}

	limiterCfg := cfg.DepositLimiter
	if limiterCfg.Limit == 0 {
		limiterCfg = ratelimit.DefaultStorageDepositLimiterConfig()
	}

	var pub [32]byte
	copy(pub[:], cfg.FacilitatorKeySeed.Public().(ed25519.PublicKey))

	return &Provider{
		rpc:                  newRPCClient(cfg.RPCURL),
		nonces:               cfg.NonceStore,
		breaker:              cfg.Breaker,
		metrics:              cfg.Metrics,
		logger:               cfg.Logger.With().Str("component", "near_provider").Logger(),
		networks:             cfg.Networks,
		facilitatorAccountID: cfg.FacilitatorAccountID,
		facilitatorKey:       cfg.FacilitatorKeySeed,
		facilitatorPublicKey: pub,
		depositLimiter:       ratelimit.NewPayerLimiter(limiterCfg),
	}, nil
}

func (p *Provider) Networks() []protocol.Network { return p.networks }

func (p *Provider) SignerAddresses() []protocol.MixedAddress {
	addr, err := protocol.ParseAddress(protocol.FamilyNear, p.facilitatorAccountID)
	if err != nil {
		return nil
	}
	return []protocol.MixedAddress{addr}
}

// ExtractPayer borsh-decodes just enough of the delegate action to name
// its sender, without RPC calls or signature verification.
func (p *Provider) ExtractPayer(payload protocol.PaymentPayload) (protocol.MixedAddress, error) {
	if payload.Near == nil {
		return protocol.MixedAddress{}, errors.New("providers/near: payload missing near variant")
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Near.SignedDelegateAction)
	if err != nil {
		return protocol.MixedAddress{}, fmt.Errorf("decode delegate action: %w", err)
	}
	sda, err := decodeSignedDelegateAction(raw)
	if err != nil {
		return protocol.MixedAddress{}, err
	}
	return protocol.ParseAddress(protocol.FamilyNear, sda.DelegateAction.SenderID)
}

type ftTransferArgs struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
}

type storageBalance struct {
	Total     string `json:"total"`
	Available string `json:"available"`
}

// verifiedDelegate is everything Settle needs, carried forward from
// validate so it never reconstructs state Verify already derived.
type verifiedDelegate struct {
	sda               signedDelegateAction
	payer             protocol.MixedAddress
	tokenContract     string
	amount            string
	needsRegistration bool
}

func (p *Provider) nonceKey(payer string, nonce uint64) string {
	return fmt.Sprintf("near#%s#%d", payer, nonce)
}

// validate runs every check shared by Verify and Settle.
func (p *Provider) validate(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (*verifiedDelegate, error) {
	if payload.Near == nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("missing near payload"))
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Near.SignedDelegateAction)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("decode delegate action: %w", err))
	}
	sda, err := decodeSignedDelegateAction(raw)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	valid, err := verifyDelegateSignature(sda)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidSignature, err)
	}
	if !valid {
		return nil, taxerrors.New(taxerrors.InvalidSignature, nil)
	}

	block, err := p.breakerBlock(ctx, req.Network)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if sda.DelegateAction.MaxBlockHeight < uint64(block.Header.Height)+finalityBufferBlocks {
		return nil, taxerrors.New(taxerrors.InvalidTiming, errors.New("delegate action expired or too close to expiry"))
	}

	fc, err := singleFunctionCall(sda.DelegateAction)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}
	if fc.MethodName != "ft_transfer" {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("unexpected method %q", fc.MethodName))
	}

	var args ftTransferArgs
	if err := json.Unmarshal(fc.Args, &args); err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("decode ft_transfer args: %w", err))
	}
	if args.ReceiverID != req.PayTo.String() {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("ft_transfer receiver does not match pay_to"))
	}
	required := req.MaxAmountRequired
	authorized, err := protocol.ParseAmount(args.Amount)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("invalid ft_transfer amount: %w", err))
	}
	if !authorized.GreaterThanOrEqual(required) {
		return nil, taxerrors.New(taxerrors.InsufficientFunds, errors.New("authorized amount below required"))
	}

	tokenContract := sda.DelegateAction.ReceiverID

	var balance storageBalance
	balanceErr := p.breakerCallView(ctx, req.Network, tokenContract, "storage_balance_of", map[string]any{"account_id": req.PayTo.String()}, &balance)
	needsRegistration := balanceErr != nil || balance.Total == ""
	if needsRegistration {
		p.logger.Info().Str("pay_to", req.PayTo.String()).Msg("near.pay_to_unregistered_storage")
	}

	var senderBalance string
	if err := p.breakerCallView(ctx, req.Network, tokenContract, "ft_balance_of", map[string]any{"account_id": sda.DelegateAction.SenderID}, &senderBalance); err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, fmt.Errorf("ft_balance_of: %w", err))
	}
	senderAmount, err := protocol.ParseAmount(senderBalance)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, fmt.Errorf("invalid ft_balance_of response: %w", err))
	}
	if !senderAmount.GreaterThanOrEqual(authorized) {
		return nil, taxerrors.New(taxerrors.InsufficientFunds, errors.New("payer ft balance below authorized amount"))
	}

	payerAddr, err := protocol.ParseAddress(protocol.FamilyNear, sda.DelegateAction.SenderID)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, err)
	}

	nonceKey := p.nonceKey(sda.DelegateAction.SenderID, sda.DelegateAction.Nonce)
	outcome, err := p.nonces.CheckAndMarkUsed(ctx, nonceKey, 0)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if outcome == noncestore.AlreadyUsed {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("delegate nonce already used"))
	}
	// This call's own CheckAndMarkUsed reserved the key (with a
	// near-zero TTL): release it immediately so validate stays
	// side-effect free when called from Verify. Settle performs the
	// real atomic reservation itself, separately, right before
	// submission.
	_ = p.nonces.Release(ctx, nonceKey)

	return &verifiedDelegate{
		sda:               sda,
		payer:             payerAddr,
		tokenContract:     tokenContract,
		amount:            args.Amount,
		needsRegistration: needsRegistration,
	}, nil
}

func (p *Provider) breakerBlock(ctx context.Context, network protocol.Network) (blockResult, error) {
	start := time.Now()
	result, err := p.breaker.Execute(circuitbreaker.ServiceNearRPC, func() (interface{}, error) {
		return p.rpc.latestBlock(ctx)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("block", string(network), time.Since(start), err)
	}
	if err != nil {
		return blockResult{}, err
	}
	return result.(blockResult), nil
}

func (p *Provider) breakerCallView(ctx context.Context, network protocol.Network, contract, method string, args any, out any) error {
	start := time.Now()
	_, err := p.breaker.Execute(circuitbreaker.ServiceNearRPC, func() (interface{}, error) {
		return nil, p.rpc.callViewFunction(ctx, contract, method, args, out)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall(method, string(network), time.Since(start), err)
	}
	return err
}

// Verify implements facilitator.Provider. It is read-only: the nonce-store
// peek inside validate is released before returning.
func (p *Provider) Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	v, err := p.validate(ctx, req, payload)
	if err != nil {
		return protocol.VerifyResponse{}, err
	}
	return protocol.ValidVerifyResponse(v.payer), nil
}

// Settle implements facilitator.Provider: re-verify, atomically reserve
// the delegate nonce, optionally batch a storage_deposit ahead of the
// wrapped delegate action, sign with the facilitator key, and submit.
func (p *Provider) Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	v, err := p.validate(ctx, req, payload)
	if err != nil {
		return protocol.SettleResponse{}, err
	}

	nonceKey := p.nonceKey(v.sda.DelegateAction.SenderID, v.sda.DelegateAction.Nonce)
	outcome, err := p.nonces.CheckAndMarkUsed(ctx, nonceKey, nonceReserveTTL)
	if err != nil {
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}
	if outcome == noncestore.AlreadyUsed {
		return protocol.FailedSettleResponse(string(taxerrors.InvalidPayload), &v.payer, req.Network), nil
	}

	actions := make([]outerAction, 0, 2)
	if v.needsRegistration {
		if !p.depositLimiter.Allow(v.payer.String()) {
			_ = p.nonces.Release(ctx, nonceKey)
			return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
		}
		depositArgs, _ := json.Marshal(map[string]any{"account_id": req.PayTo.String(), "registration_only": false})
		actions = append(actions, functionCallOuterAction("storage_deposit", depositArgs, functionCallGas, storageDepositYoctoNear))
	}
	actions = append(actions, delegateOuterAction(v.sda))

	tx, err := p.buildOuterTransaction(ctx, req.Network, v.sda.DelegateAction.ReceiverID, actions)
	if err != nil {
		_ = p.nonces.Release(ctx, nonceKey)
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	signedBytes, err := signTransaction(tx, p.facilitatorKey)
	if err != nil {
		_ = p.nonces.Release(ctx, nonceKey)
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	start := time.Now()
	result, submitErr := p.breaker.Execute(circuitbreaker.ServiceNearRPC, func() (interface{}, error) {
		return p.rpc.broadcastTxCommit(ctx, base64.StdEncoding.EncodeToString(signedBytes))
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("broadcast_tx_commit", string(req.Network), time.Since(start), submitErr)
	}
	if submitErr != nil {
		// Submission never reached the network in a way we can confirm:
		// release the nonce so a retried request is not stuck.
		_ = p.nonces.Release(ctx, nonceKey)
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	outcomeResult := result.(broadcastOutcome)
	if !outcomeResult.succeeded() {
		// The transaction landed on-chain and was included: the nonce
		// was consumed, keep it reserved.
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	return protocol.SuccessfulSettleResponse(v.payer, outcomeResult.TransactionOutcome.ID, req.Network), nil
}

func (p *Provider) buildOuterTransaction(ctx context.Context, network protocol.Network, receiverID string, actions []outerAction) (transaction, error) {
	block, err := p.breakerBlock(ctx, network)
	if err != nil {
		return transaction{}, err
	}
	blockHashBytes, err := base58.Decode(block.Header.Hash)
	if err != nil || len(blockHashBytes) != 32 {
		return transaction{}, fmt.Errorf("invalid block hash from rpc: %q", block.Header.Hash)
	}
	var blockHash [32]byte
	copy(blockHash[:], blockHashBytes)

	pubKeyBase58 := base58.Encode(p.facilitatorPublicKey[:])
	access, err := p.breakerAccessKey(ctx, network, pubKeyBase58)
	if err != nil {
		return transaction{}, err
	}

	return transaction{
		SignerID:   p.facilitatorAccountID,
		PublicKey:  publicKey{Enum: publicKeyED25519, ED25519: p.facilitatorPublicKey},
		Nonce:      uint64(access.Nonce) + 1,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}, nil
}

func (p *Provider) breakerAccessKey(ctx context.Context, network protocol.Network, pubKeyBase58 string) (viewAccessKeyResult, error) {
	start := time.Now()
	result, err := p.breaker.Execute(circuitbreaker.ServiceNearRPC, func() (interface{}, error) {
		return p.rpc.viewAccessKey(ctx, p.facilitatorAccountID, pubKeyBase58)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("view_access_key", string(network), time.Since(start), err)
	}
	if err != nil {
		return viewAccessKeyResult{}, err
	}
	return result.(viewAccessKeyResult), nil
}
