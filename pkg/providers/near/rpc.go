package near

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// rpcClient is a minimal NEAR JSON-RPC 2.0 client. No third-party NEAR SDK
// is available anywhere in the example pack (unlike Solana's
// gagliardetto/solana-go), so this speaks the wire protocol directly over
// net/http + encoding/json — the same tools the pack reaches for whenever
// no richer client exists.
type rpcClient struct {
	endpoint string
	http     *http.Client
}

func newRPCClient(endpoint string) *rpcClient {
	return &rpcClient{endpoint: endpoint, http: &http.Client{Timeout: 15 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Name string `json:"name"`
	Message string `json:"message,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("near rpc: %s: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("near rpc: %s", e.Name)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *rpcClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "facilitator", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal near rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build near rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("near rpc request: %w", err)
	}
	defer resp.Body.Close()

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode near rpc response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("unmarshal near rpc result: %w", err)
	}
	return nil
}

type viewAccessKeyResult struct {
	Nonce     int64  `json:"nonce"`
	BlockHash string `json:"block_hash"`
}

// viewAccessKey returns the facilitator's current on-chain nonce for its
// full-access key, used to assign the next outer transaction's nonce.
func (c *rpcClient) viewAccessKey(ctx context.Context, accountID, publicKeyBase58 string) (viewAccessKeyResult, error) {
	var out viewAccessKeyResult
	params := map[string]any{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   "ed25519:" + publicKeyBase58,
	}
	err := c.call(ctx, "query", params, &out)
	return out, err
}

type blockResult struct {
	Header struct {
		Hash   string `json:"hash"`
		Height int64  `json:"height"`
	} `json:"header"`
}

// latestBlock returns the current final block's hash (needed as the outer
// transaction's block_hash, bounding how long it remains valid) and height
// (compared against a delegate action's max_block_height expiry).
func (c *rpcClient) latestBlock(ctx context.Context) (blockResult, error) {
	var out blockResult
	err := c.call(ctx, "block", map[string]any{"finality": "final"}, &out)
	return out, err
}

type callFunctionResult struct {
	Result []byte `json:"result"`
}

// callViewFunction invokes a read-only contract method and JSON-decodes its
// result into out.
func (c *rpcClient) callViewFunction(ctx context.Context, contractID, method string, args any, out any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal view call args: %w", err)
	}

	var raw callFunctionResult
	params := map[string]any{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	}
	if err := c.call(ctx, "query", params, &raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw.Result, out)
}

type broadcastOutcome struct {
	TransactionOutcome struct {
		ID string `json:"id"`
	} `json:"transaction_outcome"`
	Status struct {
		SuccessValue      *string `json:"SuccessValue"`
		SuccessReceiptID  *string `json:"SuccessReceiptId"`
		Failure           json.RawMessage `json:"Failure"`
	} `json:"status"`
}

func (o broadcastOutcome) succeeded() bool {
	return o.Status.Failure == nil && (o.Status.SuccessValue != nil || o.Status.SuccessReceiptID != nil)
}

// broadcastTxCommit submits a base64 borsh-encoded SignedTransaction and
// waits for its final execution outcome.
func (c *rpcClient) broadcastTxCommit(ctx context.Context, signedTxBase64 string) (broadcastOutcome, error) {
	var out broadcastOutcome
	err := c.call(ctx, "broadcast_tx_commit", []string{signedTxBase64}, &out)
	return out, err
}
