package facilitator

import (
	"fmt"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// Registry maps an enabled network to the single Provider that serves it.
// It is built once at startup by Build and never mutated afterward, so
// lookups need no locking.
type Registry struct {
	byNetwork map[protocol.Network]Provider
}

// Build constructs a Registry from a set of providers, fanning each one
// out across every network it reports via Networks(). It fails fast if
// two providers claim the same network, or if providers is empty — the
// facilitator has nothing to serve.
func Build(providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("facilitator: registry requires at least one provider")
	}

	byNetwork := make(map[protocol.Network]Provider)
	for _, p := range providers {
		for _, n := range p.Networks() {
			if !protocol.IsKnown(n) {
				return nil, fmt.Errorf("facilitator: provider declares unknown network %q", n)
			}
			if existing, ok := byNetwork[n]; ok && existing != p {
				return nil, fmt.Errorf("facilitator: network %q claimed by more than one provider", n)
			}
			byNetwork[n] = p
		}
	}
	return &Registry{byNetwork: byNetwork}, nil
}

// Resolve looks up the provider serving n. O(1), no locking, since the
// map is immutable after Build.
func (r *Registry) Resolve(n protocol.Network) (Provider, bool) {
	p, ok := r.byNetwork[n]
	return p, ok
}

// Networks lists every network the registry has a provider for. The
// order is unspecified: it follows map iteration, not the order providers
// were passed to Build.
func (r *Registry) Networks() []protocol.Network {
	out := make([]protocol.Network, 0, len(r.byNetwork))
	for n := range r.byNetwork {
		out = append(out, n)
	}
	return out
}

// Signers collects every provider's SignerAddresses, keyed by each
// network that provider serves.
func (r *Registry) Signers() map[protocol.Network][]protocol.MixedAddress {
	seen := make(map[Provider]bool)
	out := make(map[protocol.Network][]protocol.MixedAddress)
	for _, p := range r.byNetwork {
		if seen[p] {
			continue
		}
		seen[p] = true
		for _, served := range p.Networks() {
			out[served] = p.SignerAddresses()
		}
	}
	return out
}
