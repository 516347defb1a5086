package tokenregistry

import (
	"context"
	"sync"
	"time"

	"github.com/x402fac/facilitator/internal/cacheutil"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// CachedRepository wraps a Repository with a read-through cache of the
// full deployment set, so resolving an asset on the verify/settle hot
// path doesn't round-trip to the database on every payment.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu     sync.RWMutex
	cached cacheutil.CachedValue[map[string]Deployment]
}

// NewCachedRepository wraps underlying with a cache valid for cacheTTL.
// cacheTTL of 0 disables caching (pass-through).
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{underlying: underlying, cacheTTL: cacheTTL}
}

func (r *CachedRepository) GetDeployment(ctx context.Context, network protocol.Network, asset string) (Deployment, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetDeployment(ctx, network, asset)
	}

	set, err := r.readThrough(ctx)
	if err != nil {
		return Deployment{}, err
	}
	d, ok := set[key(network, asset)]
	if !ok {
		return Deployment{}, ErrDeploymentNotFound
	}
	return d, nil
}

func (r *CachedRepository) readThrough(ctx context.Context) (map[string]Deployment, error) {
	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (map[string]Deployment, bool) {
			if r.cached.Value != nil && now.Sub(r.cached.FetchedAt) < r.cacheTTL {
				return r.cached.Value, true
			}
			return nil, false
		},
		func(now time.Time) (map[string]Deployment, error) {
			deployments, err := r.underlying.ListDeployments(ctx)
			if err != nil {
				return nil, err
			}
			set := make(map[string]Deployment, len(deployments))
			for _, d := range deployments {
				set[d.Key()] = d
			}
			r.cached = cacheutil.CachedValue[map[string]Deployment]{Value: set, FetchedAt: now}
			return set, nil
		},
	)
}

func (r *CachedRepository) ListDeployments(ctx context.Context) ([]Deployment, error) {
	return r.underlying.ListDeployments(ctx)
}

func (r *CachedRepository) AddDeployment(ctx context.Context, d Deployment) error {
	return cacheutil.WriteThrough(r.invalidate, func() error {
		return r.underlying.AddDeployment(ctx, d)
	})
}

func (r *CachedRepository) RemoveDeployment(ctx context.Context, network protocol.Network, asset string) error {
	return cacheutil.WriteThrough(r.invalidate, func() error {
		return r.underlying.RemoveDeployment(ctx, network, asset)
	})
}

func (r *CachedRepository) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = cacheutil.CachedValue[map[string]Deployment]{}
}

func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
