package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingRepository struct {
	*YAMLRepository
	listCalls int
}

func (r *countingRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	r.listCalls++
	return r.YAMLRepository.ListEntries(ctx)
}

func TestCachedRepository_CachesBetweenReads(t *testing.T) {
	underlying := &countingRepository{YAMLRepository: NewYAMLRepositoryFromEntries([]YAMLEntry{
		{Address: "0xbad"},
	})}
	cached := NewCachedRepository(underlying, time.Minute)

	for i := 0; i < 5; i++ {
		listed, err := cached.IsListed(context.Background(), "0xbad")
		require.NoError(t, err)
		require.True(t, listed)
	}

	require.Equal(t, 1, underlying.listCalls, "expected a single underlying fetch across repeated reads")
}

func TestCachedRepository_InvalidatesOnWrite(t *testing.T) {
	underlying := &countingRepository{YAMLRepository: NewYAMLRepositoryFromEntries(nil)}
	cached := NewCachedRepository(underlying, time.Minute)

	_, _ = cached.IsListed(context.Background(), "0xnew")
	require.Equal(t, 1, underlying.listCalls)

	// AddEntry on the underlying yaml repo would fail (read-only); exercise
	// invalidation directly instead, as CachedRepository's contract is to
	// never serve stale data after any successful write.
	cached.invalidate()
	_, _ = cached.IsListed(context.Background(), "0xnew")
	require.Equal(t, 2, underlying.listCalls)
}

func TestCachedRepository_ZeroTTLPassesThrough(t *testing.T) {
	underlying := &countingRepository{YAMLRepository: NewYAMLRepositoryFromEntries([]YAMLEntry{{Address: "0xbad"}})}
	cached := NewCachedRepository(underlying, 0)

	_, _ = cached.IsListed(context.Background(), "0xbad")
	_, _ = cached.IsListed(context.Background(), "0xbad")

	require.Equal(t, 0, underlying.listCalls, "zero TTL should call IsListed directly, never ListEntries")
}
