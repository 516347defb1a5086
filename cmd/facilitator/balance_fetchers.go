package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stellar/go/clients/horizonclient"

	"github.com/x402fac/facilitator/pkg/protocol"
)

func gethAddress(address string) common.Address {
	return common.HexToAddress(address)
}

var weiPerEther = new(big.Float).SetFloat64(1e18)

func weiToEther(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, weiPerEther)
	result, _ := f.Float64()
	return result
}

func solanaBalanceFetcher(rpcURL string) func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
	client := solanarpc.New(rpcURL)
	return func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
		pubkey, err := solanago.PublicKeyFromBase58(address)
		if err != nil {
			return 0, "", err
		}
		resp, err := client.GetBalance(ctx, pubkey, solanarpc.CommitmentFinalized)
		if err != nil {
			return 0, "", err
		}
		return float64(resp.Value) / 1e9, "SOL", nil
	}
}

// nearBalanceFetcher queries a NEAR RPC node's view_account method
// directly, since the account balance is denominated in yoctoNEAR
// (10^24 per NEAR) and has no analog in the near provider's own
// settlement-path RPC calls worth exporting.
func nearBalanceFetcher(rpcURL string) func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
		reqBody, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "facilitator-wallet-monitor",
			"method":  "query",
			"params": map[string]interface{}{
				"request_type": "view_account",
				"finality":     "final",
				"account_id":   address,
			},
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, strings.NewReader(string(reqBody)))
		if err != nil {
			return 0, "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return 0, "", err
		}
		defer resp.Body.Close()

		var decoded struct {
			Result struct {
				Amount string `json:"amount"`
			} `json:"result"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return 0, "", err
		}
		if decoded.Error != nil {
			return 0, "", fmt.Errorf("near rpc: %s", decoded.Error.Message)
		}

		yocto, ok := new(big.Int).SetString(decoded.Result.Amount, 10)
		if !ok {
			return 0, "", fmt.Errorf("near rpc: unparseable balance %q", decoded.Result.Amount)
		}
		f := new(big.Float).SetInt(yocto)
		f.Quo(f, new(big.Float).SetFloat64(1e24))
		balance, _ := f.Float64()
		return balance, "NEAR", nil
	}
}

func stellarBalanceFetcher(horizonURL string) func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
	client := &horizonclient.Client{HorizonURL: horizonURL}
	return func(ctx context.Context, network protocol.Network, address string) (float64, string, error) {
		account, err := client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
		if err != nil {
			return 0, "", err
		}
		for _, balance := range account.Balances {
			if balance.Asset.Type == "native" {
				amount, err := strconv.ParseFloat(balance.Balance, 64)
				if err != nil {
					return 0, "", err
				}
				return amount, "XLM", nil
			}
		}
		return 0, "XLM", nil
	}
}
