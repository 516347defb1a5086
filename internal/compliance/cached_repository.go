package compliance

import (
	"context"
	"sync"
	"time"

	"github.com/x402fac/facilitator/internal/cacheutil"
)

// CachedRepository wraps a Repository with a read-through address-set
// cache, so IsListed doesn't round-trip to the database on every payment.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu        sync.RWMutex
	cachedSet cacheutil.CachedValue[map[string]struct{}]
}

// NewCachedRepository wraps underlying with a cache valid for cacheTTL.
// cacheTTL of 0 disables caching (pass-through).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{underlying: underlying, cacheTTL: cacheTTL}
}

func (r *CachedRepository) IsListed(ctx context.Context, address string) (bool, error) {
	if r.cacheTTL == 0 {
		return r.underlying.IsListed(ctx, address)
	}

	set, err := cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (map[string]struct{}, bool) {
			if r.cachedSet.Value != nil && now.Sub(r.cachedSet.FetchedAt) < r.cacheTTL {
				return r.cachedSet.Value, true
			}
			return nil, false
		},
		func(now time.Time) (map[string]struct{}, error) {
			entries, err := r.underlying.ListEntries(ctx)
			if err != nil {
				return nil, err
			}
			set := make(map[string]struct{}, len(entries))
			for _, e := range entries {
				set[e.Address] = struct{}{}
			}
			r.cachedSet = cacheutil.CachedValue[map[string]struct{}]{Value: set, FetchedAt: now}
			return set, nil
		},
	)
	if err != nil {
		return false, err
	}
	_, listed := set[address]
	return listed, nil
}

func (r *CachedRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	return r.underlying.ListEntries(ctx)
}

func (r *CachedRepository) AddEntry(ctx context.Context, entry Entry) error {
	return cacheutil.WriteThrough(r.invalidate, func() error {
		return r.underlying.AddEntry(ctx, entry)
	})
}

func (r *CachedRepository) RemoveEntry(ctx context.Context, address string) error {
	return cacheutil.WriteThrough(r.invalidate, func() error {
		return r.underlying.RemoveEntry(ctx, address)
	})
}

func (r *CachedRepository) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedSet = cacheutil.CachedValue[map[string]struct{}]{}
}

func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
