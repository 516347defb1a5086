package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/x402fac/facilitator/internal/circuitbreaker"
	"github.com/x402fac/facilitator/internal/httputil"
	"github.com/x402fac/facilitator/internal/rpcutil"
	"github.com/x402fac/facilitator/pkg/protocol"
)

// RemoteSource consults an external sanctions feed (OFAC-shaped: a service
// that answers "is this address listed" over HTTP) behind a circuit
// breaker and bounded retry. It never sources or caches the underlying
// list data itself.
type RemoteSource struct {
	name     string
	baseURL  string
	client   *http.Client
	breaker  *circuitbreaker.Manager
	required bool
}

// NewRemoteSource builds a RemoteSource. baseURL's IsListed path is
// {baseURL}/check?address={addr}, expected to respond
// {"listed": bool}.
func NewRemoteSource(name, baseURL string, breaker *circuitbreaker.Manager, required bool, timeout time.Duration) *RemoteSource {
	return &RemoteSource{
		name:     name,
		baseURL:  baseURL,
		client:   httputil.NewClient(timeout),
		breaker:  breaker,
		required: required,
	}
}

func (s *RemoteSource) Name() string   { return s.name }
func (s *RemoteSource) Required() bool { return s.required }

type remoteCheckResponse struct {
	Listed bool `json:"listed"`
}

// IsListed queries the remote feed with a bounded retry inside a circuit
// breaker. A tripped breaker surfaces as an error, which Screener
// interprets per this source's Required() policy.
func (s *RemoteSource) IsListed(ctx context.Context, addr protocol.MixedAddress) (bool, error) {
	result, err := s.breaker.Execute(circuitbreaker.ServiceComplianceFeed, func() (interface{}, error) {
		listed, err := rpcutil.WithRetry(ctx, func() (bool, error) {
			return s.query(ctx, addr)
		})
		return listed, err
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *RemoteSource) query(ctx context.Context, addr protocol.MixedAddress) (bool, error) {
	u := fmt.Sprintf("%s/check?address=%s", s.baseURL, url.QueryEscape(addr.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("compliance: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("compliance: request %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("compliance: %s returned status %d", s.name, resp.StatusCode)
	}

	var parsed remoteCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("compliance: decode %s response: %w", s.name, err)
	}
	return parsed.Listed, nil
}
