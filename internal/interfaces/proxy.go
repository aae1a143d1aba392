package interfaces

import (
	"context"
	"net/http"
)

// FetchOptions carries the per-request knobs the Proxy Gateway needs:
// any extra headers the caller wants attached before the gateway layers
// on proxy auth, plus the HTTP method and request body.
type FetchOptions struct {
	Headers map[string]string
	Method  string // defaults to GET
	Body    []byte
}

// ProxyGateway implements C2: the single egress point for all outbound
// HTTP. Every stage and the session layer call Fetch instead of using
// *http.Client directly, so proxy policy (mandatory-proxy enforcement,
// 407/429/502 handling, country targeting, port round-robin) applies
// uniformly.
type ProxyGateway interface {
	Fetch(ctx context.Context, url string, opts *FetchOptions) (*http.Response, error)
	Stats() GatewayStats
}

// GatewayStats is the gateway's observability surface.
type GatewayStats struct {
	Provider           string
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	EstimatedBytes     int64
	LastRequestTime     string
	EstimatedCostUSD    float64
}
