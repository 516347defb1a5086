package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// wallet is one facilitator-controlled signing key with a lock-free
// per-wallet pending-nonce counter. Settlements on different wallets
// proceed fully in parallel; settlements on the same wallet serialize only
// on the single atomic fetch-add that assigns a nonce, never on the RPC
// round-trip that follows.
type wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address

	// nonce is -1 until seeded from the chain's pending nonce on first use.
	nonce atomic.Int64
}

func newWallet(key *ecdsa.PrivateKey) *wallet {
	w := &wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	w.nonce.Store(-1)
	return w
}

// ensureSeeded loads the chain's current pending nonce into w.nonce the
// first time the wallet is used. Concurrent callers race harmlessly: only
// one CompareAndSwap wins, the rest observe the seeded value.
func (w *wallet) ensureSeeded(ctx context.Context, backend ethBackend) error {
	if w.nonce.Load() >= 0 {
		return nil
	}
	pending, err := backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return fmt.Errorf("seed pending nonce: %w", err)
	}
	w.nonce.CompareAndSwap(-1, int64(pending))
	return nil
}

// assignNonce atomically claims the next nonce for this wallet.
func (w *wallet) assignNonce() uint64 {
	return uint64(w.nonce.Add(1) - 1)
}

// releaseNonce rolls back a claimed nonce so it can be reused: one that was
// never broadcast, or one whose receipt wait ended without a receipt. Only correct to call when no other caller has claimed a higher
// nonce on this wallet since — the same known imprecision the reference
// system accepts in exchange for never reusing an on-chain-consumed nonce.
func (w *wallet) releaseNonce() {
	w.nonce.Add(-1)
}
