// Package noncestore provides an atomic check-and-mark-used primitive for
// chain-native replay markers that the facilitator must not broadcast
// twice before chain finality. It is a liveness aid, not the ultimate
// replay defense — that lives on-chain (EIP-3009 nonces, NEAR delegate
// nonces, Soroban account nonces).
package noncestore

import (
	"context"
	"time"
)

// Outcome is the result of CheckAndMarkUsed.
type Outcome int

const (
	// Fresh means the key was not previously marked used, and has now been
	// recorded as used by this call.
	Fresh Outcome = iota
	// AlreadyUsed means some prior call already marked this key used; the
	// caller must treat the authorization as a replay.
	AlreadyUsed
)

// Store is the shared atomic primitive Stellar and NEAR providers use to
// guard against double-broadcasting a settlement before the underlying
// chain's own replay marker lands. Key format is owned by the caller;
// the convention used here is "{family}#{address}#{nonce}" or
// "{family}#group#{group_id}".
type Store interface {
	// CheckAndMarkUsed atomically checks whether key is already marked
	// used and, if not, marks it used with the given TTL. The check and
	// the mark happen as one atomic operation — two concurrent callers
	// racing on the same key never both observe Fresh.
	CheckAndMarkUsed(ctx context.Context, key string, ttl time.Duration) (Outcome, error)

	// Release clears a key's used mark, for the case where settlement
	// was reserved but never broadcast (e.g. a downstream validation
	// failure after the nonce was reserved but before submission).
	Release(ctx context.Context, key string) error

	// Close releases any resources the store holds (DB pool, background
	// cleanup goroutine). Safe to call once during shutdown.
	Close() error
}
