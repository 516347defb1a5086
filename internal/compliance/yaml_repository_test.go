package compliance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestYAMLRepository_IsListed(t *testing.T) {
	repo := NewYAMLRepositoryFromEntries([]YAMLEntry{
		{Address: "0xbad", Reason: "sanctioned", AddedBy: "ops"},
	})

	listed, err := repo.IsListed(context.Background(), "0xbad")
	require.NoError(t, err)
	require.True(t, listed)

	listed, err = repo.IsListed(context.Background(), "0xgood")
	require.NoError(t, err)
	require.False(t, listed)
}

func TestYAMLRepository_ReadOnly(t *testing.T) {
	repo := NewYAMLRepositoryFromEntries(nil)
	require.Error(t, repo.AddEntry(context.Background(), Entry{Address: "0xnew"}))
	require.Error(t, repo.RemoveEntry(context.Background(), "0xnew"))
}

func TestYAMLRepository_ListEntries(t *testing.T) {
	repo := NewYAMLRepositoryFromEntries([]YAMLEntry{
		{Address: "0xa", Reason: "r1"},
		{Address: "0xb", Reason: "r2"},
	})
	entries, err := repo.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
