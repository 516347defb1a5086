// Package tokenregistry tracks which token deployments a facilitator
// instance is willing to accept payments in, per network. It follows the
// same repository pattern as a product catalog, generalized from SKUs to
// token deployments: same YAML/Postgres/MongoDB backends, same
// read-through cache, same "operator curates the list out of band"
// posture.
package tokenregistry

import (
	"context"
	"errors"
	"time"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// ErrDeploymentNotFound is returned when a network/asset pair has no
// registered deployment.
var ErrDeploymentNotFound = errors.New("tokenregistry: deployment not found")

// Deployment describes a single token's on-chain presence on one network.
// Asset is the contract/mint/issuer address in that network's native
// address syntax; EIP712Name/EIP712Version only apply to EVM deployments
// that implement EIP-3009 (transferWithAuthorization), since the signature
// domain separator depends on them.
type Deployment struct {
	Network       protocol.Network
	Asset         string
	Symbol        string
	Decimals      uint8
	EIP712Name    string
	EIP712Version string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key uniquely identifies a deployment within the registry.
func (d Deployment) Key() string {
	return key(d.Network, d.Asset)
}

func key(network protocol.Network, asset string) string {
	return string(network) + ":" + asset
}

// Repository defines storage for token deployments.
type Repository interface {
	GetDeployment(ctx context.Context, network protocol.Network, asset string) (Deployment, error)
	ListDeployments(ctx context.Context) ([]Deployment, error)
	AddDeployment(ctx context.Context, d Deployment) error
	RemoveDeployment(ctx context.Context, network protocol.Network, asset string) error
	Close() error
}

// Registry is the read path the facilitator core and providers use to
// resolve a PaymentRequirements.Asset into deployment metadata (decimals,
// EIP-712 domain fields) before verifying a payload against it.
type Registry struct {
	repo Repository
}

// NewRegistry wraps a Repository as a Registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// Resolve looks up the deployment backing network/asset. Callers treat
// ErrDeploymentNotFound as "this facilitator doesn't support this asset
// on this network," which is a normal, expected outcome of /supported
// filtering, not a system failure.
func (r *Registry) Resolve(ctx context.Context, network protocol.Network, asset string) (Deployment, error) {
	return r.repo.GetDeployment(ctx, network, asset)
}

// List returns every deployment the registry currently knows about, used
// to populate the /supported response.
func (r *Registry) List(ctx context.Context) ([]Deployment, error) {
	return r.repo.ListDeployments(ctx)
}

// Close releases the underlying repository's resources.
func (r *Registry) Close() error {
	return r.repo.Close()
}
