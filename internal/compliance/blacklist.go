package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// ErrEntryNotFound is returned when a blacklist entry doesn't exist.
var ErrEntryNotFound = errors.New("compliance: blacklist entry not found")

// Entry is one operator-curated blacklist record, keyed by the raw address
// string (family is implied by shape, not enforced here — the screener
// compares against whatever MixedAddress.String() produces).
type Entry struct {
	Address   string
	Reason    string
	AddedBy   string
	CreatedAt time.Time
}

// Repository is the storage interface for the operator-curated blacklist,
// mirroring the facilitator's other repository-backed registries (token
// deployments) so both can share YAML/Postgres/MongoDB backends and a
// caching wrapper.
type Repository interface {
	IsListed(ctx context.Context, address string) (bool, error)
	ListEntries(ctx context.Context) ([]Entry, error)
	AddEntry(ctx context.Context, entry Entry) error
	RemoveEntry(ctx context.Context, address string) error
	Close() error
}

// BackendSource is the "local operator blacklist" ListSource, adapting a
// Repository to the Screener's ListSource interface. It is always
// Required: an operator-curated blacklist hit is never merely advisory.
type BackendSource struct {
	repo Repository
}

// NewBackendSource wraps a Repository as a required ListSource.
func NewBackendSource(repo Repository) *BackendSource {
	return &BackendSource{repo: repo}
}

func (s *BackendSource) Name() string { return "operator-blacklist" }

func (s *BackendSource) Required() bool { return true }

func (s *BackendSource) IsListed(ctx context.Context, addr protocol.MixedAddress) (bool, error) {
	return s.repo.IsListed(ctx, addr.String())
}
