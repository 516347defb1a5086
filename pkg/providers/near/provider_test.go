package near

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/noncestore"
	"github.com/x402fac/facilitator/internal/ratelimit"
	"github.com/x402fac/facilitator/pkg/protocol"
)

func TestUint128_RoundTrip(t *testing.T) {
	v := mustUint128("1250000000000000000000")
	require.Equal(t, "1250000000000000000000", v.BigInt().String())
}

func buildSignedDelegateAction(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, sender, receiver string, args []byte, maxBlockHeight uint64) signedDelegateAction {
	t.Helper()
	var pubField publicKey
	pubField.Enum = publicKeyED25519
	copy(pubField.ED25519[:], pub)

	da := delegateAction{
		SenderID:   sender,
		ReceiverID: receiver,
		Actions: []innerAction{
			{
				Enum: innerActionFunctionCall,
				FunctionCall: functionCallAction{
					MethodName: "ft_transfer",
					Args:       args,
					Gas:        functionCallGas,
					Deposit:    uint128{},
				},
			},
		},
		Nonce:          1,
		MaxBlockHeight: maxBlockHeight,
		PublicKey:      pubField,
	}

	hash, err := signableHash(da)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, hash[:])

	var sigField signature
	sigField.Enum = signatureED25519
	copy(sigField.ED25519[:], sig)

	return signedDelegateAction{DelegateAction: da, Signature: sigField}
}

func TestBorsh_SignedDelegateActionRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	args, _ := json.Marshal(ftTransferArgs{ReceiverID: "merchant.near", Amount: "1000"})
	sda := buildSignedDelegateAction(t, pub, priv, "payer.near", "usdc.near", args, 1000)

	raw, err := borsh.Serialize(sda)
	require.NoError(t, err)

	decoded, err := decodeSignedDelegateAction(raw)
	require.NoError(t, err)
	require.Equal(t, sda.DelegateAction.SenderID, decoded.DelegateAction.SenderID)
	require.Equal(t, sda.DelegateAction.ReceiverID, decoded.DelegateAction.ReceiverID)
	require.Equal(t, sda.DelegateAction.Nonce, decoded.DelegateAction.Nonce)
	require.Equal(t, sda.Signature.ED25519, decoded.Signature.ED25519)
}

func TestVerifyDelegateSignature_Valid(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	args, _ := json.Marshal(ftTransferArgs{ReceiverID: "merchant.near", Amount: "1000"})
	sda := buildSignedDelegateAction(t, pub, priv, "payer.near", "usdc.near", args, 1000)

	ok, err := verifyDelegateSignature(sda)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDelegateSignature_Tampered(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	args, _ := json.Marshal(ftTransferArgs{ReceiverID: "merchant.near", Amount: "1000"})
	sda := buildSignedDelegateAction(t, pub, priv, "payer.near", "usdc.near", args, 1000)
	sda.DelegateAction.Nonce = 2 // mutate after signing

	ok, err := verifyDelegateSignature(sda)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSingleFunctionCall_Success(t *testing.T) {
	da := delegateAction{
		Actions: []innerAction{
			{Enum: innerActionFunctionCall, FunctionCall: functionCallAction{MethodName: "ft_transfer"}},
		},
	}
	fc, err := singleFunctionCall(da)
	require.NoError(t, err)
	require.Equal(t, "ft_transfer", fc.MethodName)
}

func TestSingleFunctionCall_RejectsMultiple(t *testing.T) {
	da := delegateAction{
		Actions: []innerAction{
			{Enum: innerActionFunctionCall, FunctionCall: functionCallAction{MethodName: "ft_transfer"}},
			{Enum: innerActionFunctionCall, FunctionCall: functionCallAction{MethodName: "ft_transfer"}},
		},
	}
	_, err := singleFunctionCall(da)
	require.Error(t, err)
}

func TestSingleFunctionCall_RejectsNonFunctionCall(t *testing.T) {
	da := delegateAction{
		Actions: []innerAction{
			{Enum: innerActionFunctionCall, FunctionCall: functionCallAction{MethodName: "ft_transfer"}},
			{Enum: 3}, // Transfer
		},
	}
	_, err := singleFunctionCall(da)
	require.Error(t, err)
}

func TestSingleFunctionCall_RejectsEmpty(t *testing.T) {
	_, err := singleFunctionCall(delegateAction{})
	require.Error(t, err)
}

// fakeNearRPC answers the handful of JSON-RPC methods the provider calls,
// dispatching on the method name and (for "query") the request_type.
type fakeNearRPC struct {
	blockHeight    int64
	blockHash      string
	storageTotal   string // empty means unregistered
	ftBalance      string
	facilitatorNonce int64
	broadcastStatus string // "success" or "failure"
	txID            string
}

func (f *fakeNearRPC) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result any
		switch req.Method {
		case "block":
			result = map[string]any{"header": map[string]any{"hash": f.blockHash, "height": f.blockHeight}}
		case "query":
			params, _ := req.Params.(map[string]any)
			switch params["request_type"] {
			case "view_access_key":
				result = map[string]any{"nonce": f.facilitatorNonce, "block_hash": f.blockHash}
			case "call_function":
				methodName, _ := params["method_name"].(string)
				var payload []byte
				switch methodName {
				case "storage_balance_of":
					if f.storageTotal == "" {
						payload = []byte("null")
					} else {
						b, _ := json.Marshal(storageBalance{Total: f.storageTotal, Available: f.storageTotal})
						payload = b
					}
				case "ft_balance_of":
					payload = []byte(f.ftBalance)
				default:
					payload = []byte("null")
				}
				result = map[string]any{"result": payload}
			}
		case "broadcast_tx_commit":
			status := map[string]any{}
			if f.broadcastStatus == "failure" {
				status["Failure"] = map[string]any{"error": "boom"}
			} else {
				successVal := ""
				status["SuccessValue"] = &successVal
			}
			result = map[string]any{
				"transaction_outcome": map[string]any{"id": f.txID},
				"status":              status,
			}
		}

		resultJSON, _ := json.Marshal(result)
		envelope := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(resultJSON)}
		_ = json.NewEncoder(w).Encode(envelope)
	}
}

func newTestNearProvider(t *testing.T, server *httptest.Server) (*Provider, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	payerPub, payerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	facPub, facPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = facPub

	p, err := New(Config{
		RPCURL:               server.URL,
		FacilitatorAccountID: "facilitator.near",
		FacilitatorKeySeed:   facPriv,
		Networks:             []protocol.Network{protocol.NetworkNear},
		NonceStore:           noncestore.NewMemoryStore(),
		Breaker:              circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
		Logger:               zerolog.Nop(),
	})
	require.NoError(t, err)
	return p, payerPub, payerPriv
}

func testPaymentRequirements(payTo, amount string) protocol.PaymentRequirements {
	payToAddr, _ := protocol.ParseAddress(protocol.FamilyNear, payTo)
	amt, _ := protocol.ParseAmount(amount)
	return protocol.PaymentRequirements{
		Scheme:            protocol.SchemeExact,
		Network:           protocol.NetworkNear,
		Asset:             protocol.MixedAddress{},
		MaxAmountRequired: amt,
		PayTo:             payToAddr,
		MaxTimeoutSeconds: 60,
	}
}

func buildNearPayload(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, sender, tokenContract, payTo, amount string, maxBlockHeight uint64) protocol.PaymentPayload {
	t.Helper()
	args, err := json.Marshal(ftTransferArgs{ReceiverID: payTo, Amount: amount})
	require.NoError(t, err)
	sda := buildSignedDelegateAction(t, pub, priv, sender, tokenContract, args, maxBlockHeight)
	raw, err := borsh.Serialize(sda)
	require.NoError(t, err)
	return protocol.PaymentPayload{
		X402Version: 1,
		Scheme:      protocol.SchemeExact,
		Network:     protocol.NetworkNear,
		Near:        &protocol.NearExactPayload{SignedDelegateAction: base64.StdEncoding.EncodeToString(raw)},
	}
}

func TestVerify_Success(t *testing.T) {
	rpc := &fakeNearRPC{
		blockHeight:      900,
		blockHash:        base58.Encode(make([]byte, 32)),
		storageTotal:     "1",
		ftBalance:        `"5000"`,
		facilitatorNonce: 10,
	}
	server := httptest.NewServer(rpc.handler())
	defer server.Close()

	p, pub, priv := newTestNearProvider(t, server)
	req := testPaymentRequirements("merchant.near", "1000")
	payload := buildNearPayload(t, pub, priv, "payer.near", "usdc.near", "merchant.near", "1000", 1000)

	resp, err := p.Verify(context.Background(), req, payload)
	require.NoError(t, err)
	require.True(t, resp.IsValid)
}

func TestVerify_RejectsExpired(t *testing.T) {
	rpc := &fakeNearRPC{
		blockHeight:  2000,
		blockHash:    base58.Encode(make([]byte, 32)),
		storageTotal: "1",
		ftBalance:    `"5000"`,
	}
	server := httptest.NewServer(rpc.handler())
	defer server.Close()

	p, pub, priv := newTestNearProvider(t, server)
	req := testPaymentRequirements("merchant.near", "1000")
	payload := buildNearPayload(t, pub, priv, "payer.near", "usdc.near", "merchant.near", "1000", 1000)

	_, err := p.Verify(context.Background(), req, payload)
	require.Error(t, err)
}

func TestVerify_InsufficientBalance(t *testing.T) {
	rpc := &fakeNearRPC{
		blockHeight:  900,
		blockHash:    base58.Encode(make([]byte, 32)),
		storageTotal: "1",
		ftBalance:    `"500"`,
	}
	server := httptest.NewServer(rpc.handler())
	defer server.Close()

	p, pub, priv := newTestNearProvider(t, server)
	req := testPaymentRequirements("merchant.near", "1000")
	payload := buildNearPayload(t, pub, priv, "payer.near", "usdc.near", "merchant.near", "1000", 1000)

	_, err := p.Verify(context.Background(), req, payload)
	require.Error(t, err)
}

func TestSettle_Success(t *testing.T) {
	rpc := &fakeNearRPC{
		blockHeight:      900,
		blockHash:        base58.Encode(make([]byte, 32)),
		storageTotal:     "1",
		ftBalance:        `"5000"`,
		facilitatorNonce: 10,
		broadcastStatus:  "success",
		txID:             "testtxhash",
	}
	server := httptest.NewServer(rpc.handler())
	defer server.Close()

	p, pub, priv := newTestNearProvider(t, server)
	req := testPaymentRequirements("merchant.near", "1000")
	payload := buildNearPayload(t, pub, priv, "payer.near", "usdc.near", "merchant.near", "1000", 1000)

	resp, err := p.Settle(context.Background(), req, payload)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "testtxhash", resp.TransactionHash)
}

func TestSettle_ReplayRejected(t *testing.T) {
	rpc := &fakeNearRPC{
		blockHeight:      900,
		blockHash:        base58.Encode(make([]byte, 32)),
		storageTotal:     "1",
		ftBalance:        `"5000"`,
		facilitatorNonce: 10,
		broadcastStatus:  "success",
		txID:             "firsthash",
	}
	server := httptest.NewServer(rpc.handler())
	defer server.Close()

	p, pub, priv := newTestNearProvider(t, server)
	req := testPaymentRequirements("merchant.near", "1000")
	payload := buildNearPayload(t, pub, priv, "payer.near", "usdc.near", "merchant.near", "1000", 1000)

	first, err := p.Settle(context.Background(), req, payload)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := p.Settle(context.Background(), req, payload)
	require.NoError(t, err)
	require.False(t, second.Success)
}

func TestSettle_OnChainFailureKeepsNonceReserved(t *testing.T) {
	rpc := &fakeNearRPC{
		blockHeight:      900,
		blockHash:        base58.Encode(make([]byte, 32)),
		storageTotal:     "1",
		ftBalance:        `"5000"`,
		facilitatorNonce: 10,
		broadcastStatus:  "failure",
	}
	server := httptest.NewServer(rpc.handler())
	defer server.Close()

	p, pub, priv := newTestNearProvider(t, server)
	req := testPaymentRequirements("merchant.near", "1000")
	payload := buildNearPayload(t, pub, priv, "payer.near", "usdc.near", "merchant.near", "1000", 1000)

	resp, err := p.Settle(context.Background(), req, payload)
	require.NoError(t, err)
	require.False(t, resp.Success)

	// The nonce was consumed on-chain: a retried settlement with the
	// same delegate action must still be rejected as a replay, not
	// resubmitted.
	key := "near#payer.near#1"
	outcome, err := p.nonces.CheckAndMarkUsed(context.Background(), key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, noncestore.AlreadyUsed, outcome)
}

func TestExtractPayer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	args, _ := json.Marshal(ftTransferArgs{ReceiverID: "merchant.near", Amount: "1000"})
	payload := protocol.PaymentPayload{Network: protocol.NetworkNear}
	sda := buildSignedDelegateAction(t, pub, priv, "payer.near", "usdc.near", args, 1000)
	raw, err := borsh.Serialize(sda)
	require.NoError(t, err)
	payload.Near = &protocol.NearExactPayload{SignedDelegateAction: base64.StdEncoding.EncodeToString(raw)}

	p := &Provider{}
	payer, err := p.ExtractPayer(payload)
	require.NoError(t, err)
	require.Equal(t, "payer.near", payer.String())
}

func TestExtractPayer_MissingVariant(t *testing.T) {
	p := &Provider{}
	_, err := p.ExtractPayer(protocol.PaymentPayload{})
	require.Error(t, err)
}

func TestNew_RequiresRPCURL(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, err = New(Config{FacilitatorAccountID: "a.near", FacilitatorKeySeed: priv, NonceStore: noncestore.NewMemoryStore()})
	require.Error(t, err)
}

func TestNew_RequiresValidKey(t *testing.T) {
	_, err := New(Config{RPCURL: "http://localhost", FacilitatorAccountID: "a.near", NonceStore: noncestore.NewMemoryStore()})
	require.Error(t, err)
}

func TestDefaultDepositLimiter(t *testing.T) {
	cfg := ratelimit.DefaultStorageDepositLimiterConfig()
	require.Equal(t, 5, cfg.Limit)
	require.Equal(t, 10*time.Minute, cfg.Window)
}
