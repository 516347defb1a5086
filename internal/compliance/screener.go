// Package compliance screens payment parties against sanctions/blacklist
// sources before verify and before settle. It consumes list sources; it
// does not curate or source sanctions data itself.
package compliance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/x402fac/facilitator/pkg/protocol"
)

// Decision is the outcome of screening a set of addresses.
type Decision string

const (
	// Clear means no source flagged any address.
	Clear Decision = "clear"
	// Review means a non-required source flagged an address, or a
	// non-required source was unreachable.
	Review Decision = "review"
	// Block means a required source flagged an address. An unreachable
	// required source makes Screen return an error instead of a Decision.
	Block Decision = "block"
)

// ListSource is one sanctions/blacklist data source. Required sources
// block the payment outright on a hit; non-required sources downgrade a
// hit to Review.
type ListSource interface {
	// Name identifies the source for logging and metrics.
	Name() string
	// IsListed reports whether addr appears on this source's list.
	IsListed(ctx context.Context, addr protocol.MixedAddress) (bool, error)
	// Required reports whether an unreachable source fails closed (Screen
	// returns an error) or open (Review) for this source.
	Required() bool
}

// Screener runs every configured ListSource against a set of addresses
// and combines their verdicts into one Decision.
type Screener struct {
	sources []ListSource
	logger  zerolog.Logger
}

// NewScreener builds a Screener over the given sources.
func NewScreener(logger zerolog.Logger, sources ...ListSource) *Screener {
	return &Screener{sources: sources, logger: logger.With().Str("component", "compliance").Logger()}
}

// Result carries the combined decision plus which source(s) drove it, for
// structured logging and audit.
type Result struct {
	Decision Decision
	Hits     []Hit
}

// Hit names one flagged address and the source that flagged it.
type Hit struct {
	Address protocol.MixedAddress
	Source  string
}

// Screen checks every address against every source. It does not
// short-circuit on the first hit — it collects every hit so a Review
// verdict from one source doesn't hide a Block verdict from another. A
// required source that cannot be reached stops screening with an error.
func (s *Screener) Screen(ctx context.Context, addresses []protocol.MixedAddress) (Result, error) {
	if len(s.sources) == 0 {
		return Result{}, ErrNoSourcesConfigured
	}

	result := Result{Decision: Clear}

	for _, source := range s.sources {
		for _, addr := range addresses {
			listed, err := source.IsListed(ctx, addr)
			if err != nil {
				s.logger.Warn().Err(err).Str("source", source.Name()).Str("address", addr.String()).Msg("list source unreachable")
				if source.Required() {
					return Result{}, fmt.Errorf("compliance: required source %s unreachable: %w", source.Name(), err)
				}
				if result.Decision == Clear {
					result.Decision = Review
				}
				continue
			}
			if !listed {
				continue
			}
			result.Hits = append(result.Hits, Hit{Address: addr, Source: source.Name()})
			if source.Required() {
				result.Decision = Block
			} else if result.Decision == Clear {
				result.Decision = Review
			}
		}
	}

	return result, nil
}

// ErrNoSourcesConfigured signals a misconfigured facilitator that screens
// with zero sources — callers should treat this as a startup error, not a
// silent Clear.
var ErrNoSourcesConfigured = fmt.Errorf("compliance: no list sources configured")
