package stellar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// rpcClient is a minimal Soroban JSON-RPC 2.0 client. stellar/go's Soroban
// RPC client surface was unstable across the versions straddling this
// module's pinned commit, so this speaks the documented wire protocol
// directly, the same choice made for the NEAR provider's RPC client.
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
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("soroban rpc: %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *rpcClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "facilitator", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal soroban rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build soroban rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("soroban rpc request: %w", err)
	}
	defer resp.Body.Close()
	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode soroban rpc response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

type latestLedgerResult struct {
	Sequence uint32 `json:"sequence"`
}

func (c *rpcClient) getLatestLedger(ctx context.Context) (latestLedgerResult, error) {
	var out latestLedgerResult
	err := c.call(ctx, "getLatestLedger", map[string]any{}, &out)
	return out, err
}

type sendTransactionResult struct {
	Hash   string `json:"hash"`
	Status string `json:"status"` // "PENDING", "ERROR", "DUPLICATE", "TRY_AGAIN_LATER"
}

func (c *rpcClient) sendTransaction(ctx context.Context, envelopeXDRBase64 string) (sendTransactionResult, error) {
	var out sendTransactionResult
	err := c.call(ctx, "sendTransaction", map[string]any{"transaction": envelopeXDRBase64}, &out)
	return out, err
}

type getTransactionResult struct {
	Status string `json:"status"` // "NOT_FOUND", "SUCCESS", "FAILED"
}

func (c *rpcClient) getTransaction(ctx context.Context, hash string) (getTransactionResult, error) {
	var out getTransactionResult
	err := c.call(ctx, "getTransaction", map[string]any{"hash": hash}, &out)
	return out, err
}
