// Package evm implements the facilitator.Provider contract for the EVM
// family via EIP-3009 transferWithAuthorization: gasless ERC-20 transfers
// authorized by an off-chain EIP-712 signature, submitted and gas-paid by a
// facilitator-controlled wallet pool. It supports EOA, ERC-1271, and
// ERC-6492 (counterfactual smart wallet) signers.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	taxerrors "github.com/x402fac/facilitator/internal/errors"
	"github.com/x402fac/facilitator/internal/metrics"
	"github.com/x402fac/facilitator/internal/rpcutil"
	"github.com/x402fac/facilitator/internal/tokenregistry"
	"github.com/x402fac/facilitator/pkg/protocol"
)

const (
	// minValidityRemaining is the clock-drift/submission-latency guard: an
	// authorization expiring sooner than this is rejected outright rather
	// than raced against the network.
	minValidityRemaining = 6 * time.Second

	defaultGasLimit    = uint64(150_000)
	receiptPollInterval = time.Second
)

// Provider implements facilitator.Provider for protocol.FamilyEVM.
type Provider struct {
	backend ethBackend
	tokens  *tokenregistry.Registry
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger

	networks       []protocol.Network
	receiptTimeout time.Duration

	wallets      []*wallet
	walletCursor atomic.Uint64

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// Config carries everything needed to construct a Provider.
type Config struct {
	Backend        ethBackend
	Tokens         *tokenregistry.Registry
	Networks       []protocol.Network
	Signers        []*ecdsa.PrivateKey
	Breaker        *circuitbreaker.Manager
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	ReceiptTimeout time.Duration
}

// New builds a Provider. At least one signer is required — settle has no
// wallet to pay gas from otherwise.
func New(cfg Config) (*Provider, error) {
	if cfg.Backend == nil {
		return nil, errors.New("providers/evm: backend required")
	}
	if len(cfg.Signers) == 0 {
		return nil, errors.New("providers/evm: at least one signer wallet required")
	}
	timeout := cfg.ReceiptTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	wallets := make([]*wallet, 0, len(cfg.Signers))
	for _, key := range cfg.Signers {
		wallets = append(wallets, newWallet(key))
	}

	return &Provider{
		backend:        cfg.Backend,
		tokens:         cfg.Tokens,
		breaker:        cfg.Breaker,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With().Str("component", "evm_provider").Logger(),
		networks:       cfg.Networks,
		receiptTimeout: timeout,
		wallets:        wallets,
		now:            time.Now,
	}, nil
}

func (p *Provider) Networks() []protocol.Network { return p.networks }

func (p *Provider) SignerAddresses() []protocol.MixedAddress {
	out := make([]protocol.MixedAddress, 0, len(p.wallets))
	for _, w := range p.wallets {
		addr, err := protocol.ParseAddress(protocol.FamilyEVM, w.address.Hex())
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// nextWallet picks the next facilitator wallet round-robin. The cursor
// advance is a single atomic fetch-add, independent of each wallet's own
// per-wallet nonce counter.
func (p *Provider) nextWallet() *wallet {
	idx := p.walletCursor.Add(1) % uint64(len(p.wallets))
	return p.wallets[idx]
}

// ExtractPayer implements facilitator.Provider. The EVM payload already
// carries the payer as a parsed field — no decoding beyond what JSON
// unmarshaling already did is needed.
func (p *Provider) ExtractPayer(payload protocol.PaymentPayload) (protocol.MixedAddress, error) {
	if payload.Evm == nil {
		return protocol.MixedAddress{}, errors.New("providers/evm: payload missing evm variant")
	}
	return payload.Evm.From, nil
}

// verifiedAuthorization is the outcome of validate: everything Settle needs
// to submit the transaction, without re-deriving it from scratch.
type verifiedAuthorization struct {
	auth       protocol.EvmExactPayload
	payer      protocol.MixedAddress
	nonce      [32]byte
	tokenAddr  common.Address
	wrappedSig wrappedSignature
}

// validate runs every check shared by Verify and Settle. Both call this —
// Settle never trusts a prior Verify result.
func (p *Provider) validate(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload, allowUndeployed bool) (*verifiedAuthorization, error) {
	if payload.Evm == nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("missing evm payload"))
	}
	auth := *payload.Evm

	now := p.now()
	validBefore := time.Unix(auth.ValidBefore, 0)
	validAfter := time.Unix(auth.ValidAfter, 0)
	if now.Before(validAfter) || !now.Before(validBefore) {
		return nil, taxerrors.New(taxerrors.InvalidTiming, fmt.Errorf("now=%d outside [%d,%d)", now.Unix(), auth.ValidAfter, auth.ValidBefore))
	}
	if validBefore.Sub(now) < minValidityRemaining {
		return nil, taxerrors.New(taxerrors.InvalidTiming, errors.New("validity window too close to expiry"))
	}

	if !auth.To.EqualFold(req.PayTo) {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("authorization recipient does not match pay_to"))
	}
	if !auth.Value.GreaterThanOrEqual(req.MaxAmountRequired) {
		return nil, taxerrors.New(taxerrors.InsufficientFunds, fmt.Errorf("authorized value %s < required %s", auth.Value.String(), req.MaxAmountRequired.String()))
	}

	nonceBytes, err := decodeHex32(auth.Nonce)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("invalid nonce: %w", err))
	}

	info, err := protocol.Info(req.Network)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidNetwork, err)
	}

	tokenAddr := common.HexToAddress(req.Asset.String())
	tokenName, tokenVersion := "", ""
	if p.tokens != nil {
		deployment, err := p.tokens.Resolve(ctx, req.Network, req.Asset.String())
		if err != nil {
			return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("resolve token deployment: %w", err))
		}
		tokenName, tokenVersion = deployment.EIP712Name, deployment.EIP712Version
	}

	digest, err := authorizationDigest(auth, info.EVMChainID, tokenAddr.Hex(), tokenName, tokenVersion, nonceBytes)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}

	sigBytes, err := decodeHex(auth.Signature)
	if err != nil {
		return nil, taxerrors.New(taxerrors.InvalidPayload, fmt.Errorf("invalid signature encoding: %w", err))
	}

	signerAddr := common.HexToAddress(auth.From.String())
	valid, wrapped, err := verifyUniversal(ctx, p.backend, signerAddr, digest, sigBytes, allowUndeployed)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, fmt.Errorf("signature verification: %w", err))
	}
	if !valid {
		return nil, taxerrors.New(taxerrors.InvalidSignature, nil)
	}

	used, err := p.authorizationUsed(ctx, tokenAddr, signerAddr, nonceBytes, req.Network)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if used {
		return nil, taxerrors.New(taxerrors.InvalidPayload, errors.New("authorization used"))
	}

	balance, err := p.tokenBalance(ctx, tokenAddr, signerAddr, req.Network)
	if err != nil {
		return nil, taxerrors.New(taxerrors.UnexpectedVerifyError, err)
	}
	if balance.Cmp(auth.Value.BigInt()) < 0 {
		return nil, taxerrors.New(taxerrors.InsufficientFunds, fmt.Errorf("balance %s < authorized %s", balance, auth.Value.BigInt()))
	}

	return &verifiedAuthorization{
		auth:       auth,
		payer:      auth.From,
		nonce:      nonceBytes,
		tokenAddr:  tokenAddr,
		wrappedSig: wrapped,
	}, nil
}

func (p *Provider) authorizationUsed(ctx context.Context, token, authorizer common.Address, nonce [32]byte, network protocol.Network) (bool, error) {
	start := time.Now()
	result, err := p.breaker.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
		return callContract(ctx, p.backend, token, authorizationStateABI, "authorizationState", authorizer, nonce)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("authorizationState", string(network), time.Since(start), err)
	}
	if err != nil {
		return false, err
	}
	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("authorizationState: unexpected return type %T", result)
	}
	return used, nil
}

func (p *Provider) tokenBalance(ctx context.Context, token, account common.Address, network protocol.Network) (*big.Int, error) {
	start := time.Now()
	result, err := p.breaker.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
		return callContract(ctx, p.backend, token, balanceOfABI, "balanceOf", account)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("balanceOf", string(network), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected return type %T", result)
	}
	return balance, nil
}

// Verify implements facilitator.Provider. It is read-only.
func (p *Provider) Verify(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.VerifyResponse, error) {
	v, err := p.validate(ctx, req, payload, true)
	if err != nil {
		return protocol.VerifyResponse{}, err
	}
	return protocol.ValidVerifyResponse(v.payer), nil
}

// Settle implements facilitator.Provider: re-verify, deploy a counterfactual
// wallet if the signature carries ERC-6492 deployment info, submit
// transferWithAuthorization from a round-robin facilitator wallet, and wait
// for the receipt.
func (p *Provider) Settle(ctx context.Context, req protocol.PaymentRequirements, payload protocol.PaymentPayload) (protocol.SettleResponse, error) {
	v, err := p.validate(ctx, req, payload, true)
	if err != nil {
		return protocol.SettleResponse{}, err
	}

	signer := p.nextWallet()
	if err := signer.ensureSeeded(ctx, p.backend); err != nil {
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	if v.wrappedSig.HasDeploymentInfo() {
		code, err := p.backend.CodeAt(ctx, common.HexToAddress(v.auth.From.String()), nil)
		if err != nil {
			return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
		}
		if len(code) == 0 {
			if err := p.deployWallet(ctx, signer, req.Network, v.wrappedSig); err != nil {
				return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
			}
		}
	}

	nonce := signer.assignNonce()
	txHash, err := p.submitTransfer(ctx, signer, nonce, req, v)
	if err != nil {
		signer.releaseNonce()
		reason := taxerrors.UnexpectedSettleError
		if isInsufficientEVMFundsError(err) {
			reason = taxerrors.InsufficientFunds
		}
		return protocol.FailedSettleResponse(string(reason), &v.payer, req.Network), nil
	}

	status, err := p.awaitReceipt(ctx, txHash)
	if err != nil {
		// Receipt unknown (wait timed out or was cancelled): roll the nonce
		// back for reuse; only a mined receipt below keeps it consumed.
		signer.releaseNonce()
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}
	if status != types.ReceiptStatusSuccessful {
		return protocol.FailedSettleResponse(string(taxerrors.UnexpectedSettleError), &v.payer, req.Network), nil
	}

	return protocol.SuccessfulSettleResponse(v.payer, txHash.Hex(), req.Network), nil
}

func (p *Provider) submitTransfer(ctx context.Context, signer *wallet, nonce uint64, req protocol.PaymentRequirements, v *verifiedAuthorization) (common.Hash, error) {
	data, err := p.transferCalldata(v)
	if err != nil {
		return common.Hash{}, err
	}

	info, err := protocol.Info(req.Network)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := p.buildTransaction(ctx, signer, nonce, v.tokenAddr, data, info)
	if err != nil {
		return common.Hash{}, err
	}

	send := func() (common.Hash, error) {
		return tx.Hash(), p.backend.SendTransaction(ctx, tx)
	}
	start := time.Now()
	hash, err := rpcutil.WithRetry(ctx, func() (common.Hash, error) {
		return p.breakerSend(send)
	})
	if p.metrics != nil {
		p.metrics.ObserveRPCCall("SendTransaction", string(req.Network), time.Since(start), err)
	}
	return hash, err
}

func (p *Provider) breakerSend(send func() (common.Hash, error)) (common.Hash, error) {
	result, err := p.breaker.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
		return send()
	})
	if err != nil {
		return common.Hash{}, err
	}
	return result.(common.Hash), nil
}

func (p *Provider) transferCalldata(v *verifiedAuthorization) ([]byte, error) {
	from := common.HexToAddress(v.auth.From.String())
	to := common.HexToAddress(v.auth.To.String())
	value := v.auth.Value.BigInt()
	validAfter := big.NewInt(v.auth.ValidAfter)
	validBefore := big.NewInt(v.auth.ValidBefore)

	if len(v.wrappedSig.Inner) == 65 && !v.wrappedSig.HasDeploymentInfo() {
		r := [32]byte{}
		s := [32]byte{}
		copy(r[:], v.wrappedSig.Inner[0:32])
		copy(s[:], v.wrappedSig.Inner[32:64])
		vByte := v.wrappedSig.Inner[64]
		return packContractCall(transferWithAuthorizationVRSABI, "transferWithAuthorization",
			from, to, value, validAfter, validBefore, v.nonce, vByte, r, s)
	}

	return packContractCall(transferWithAuthorizationBytesABI, "transferWithAuthorization",
		from, to, value, validAfter, validBefore, v.nonce, v.wrappedSig.Inner)
}

func (p *Provider) buildTransaction(ctx context.Context, signer *wallet, nonce uint64, to common.Address, data []byte, info protocol.NetworkInfo) (*types.Transaction, error) {
	chainID := new(big.Int).SetUint64(info.EVMChainID)
	ethSigner := types.LatestSignerForChainID(chainID)

	var txdata types.TxData
	if info.IsLegacyGas {
		gasPrice, err := p.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(0),
			Gas:      defaultGasLimit,
			GasPrice: gasPrice,
			Data:     data,
		}
	} else {
		tip, err := p.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas tip cap: %w", err)
		}
		head, err := p.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("get latest header: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		txdata = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			To:        &to,
			Value:     big.NewInt(0),
			Gas:       defaultGasLimit,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Data:      data,
		}
	}

	return types.SignNewTx(signer.key, ethSigner, txdata)
}

// deployWallet submits the ERC-6492 factory calldata directly, deploying
// the counterfactual smart wallet before the transferWithAuthorization call
// that follows.
func (p *Provider) deployWallet(ctx context.Context, signer *wallet, network protocol.Network, wrapped wrappedSignature) error {
	nonce := signer.assignNonce()
	info, err := protocol.Info(network)
	if err != nil {
		signer.releaseNonce()
		return err
	}
	tx, err := p.buildTransaction(ctx, signer, nonce, wrapped.Factory, wrapped.FactoryCalldata, info)
	if err != nil {
		signer.releaseNonce()
		return err
	}
	if _, err := p.breakerSend(func() (common.Hash, error) {
		return tx.Hash(), p.backend.SendTransaction(ctx, tx)
	}); err != nil {
		signer.releaseNonce()
		return err
	}
	status, err := p.awaitReceipt(ctx, tx.Hash())
	if err != nil {
		signer.releaseNonce()
		return err
	}
	if status != types.ReceiptStatusSuccessful {
		return errors.New("smart wallet deployment reverted")
	}
	return nil
}

func (p *Provider) awaitReceipt(ctx context.Context, hash common.Hash) (uint64, error) {
	deadline := time.Now().Add(p.receiptTimeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			receipt, err := p.backend.TransactionReceipt(ctx, hash)
			if err == nil && receipt != nil {
				return receipt.Status, nil
			}
			if time.Now().After(deadline) {
				return 0, errors.New("receipt wait timed out")
			}
		}
	}
}

func isInsufficientEVMFundsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "exceeds balance")
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := decodeHex(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
