package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/httpclient"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// transientGatewaySleep is the fixed pause before the gateway's single
// retry of a 502/525 response. This is a one-shot rule distinct from the
// Adaptive Rate Limiter's exponential backoff ladder, which retries the
// request again at a higher level if the gateway ultimately fails.
const transientGatewaySleep = 2 * time.Second

// Gateway implements interfaces.ProxyGateway: the single egress point for
// all outbound HTTP, enforcing the mandatory-proxy policy (every request
// must leave through VPN or an authenticated proxy provider — direct
// egress is never allowed) and handling 407/429/502/525 dispositions
// uniformly so stages don't each reimplement proxy error handling.
type Gateway struct {
	provider Provider
	client   *http.Client
	logger   arbor.ILogger

	mu    sync.Mutex
	stats interfaces.GatewayStats
}

// NewGateway selects a provider by priority VPN -> ProxyScrape -> Oxylabs
// (the first with Enabled=true wins) and builds the client around it. A
// configuration with no provider enabled is a ConfigurationError: direct
// egress to allabolag.se is never permitted.
func NewGateway(logger arbor.ILogger, cfg *common.ProxyConfig) (*Gateway, error) {
	provider, providerName, err := selectProvider(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		provider: provider,
		logger:   logger,
		stats:    interfaces.GatewayStats{Provider: providerName},
	}

	g.client = httpclient.NewDefaultHTTPClient(30 * time.Second)
	g.client.Transport = &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			return provider.ProxyURL()
		},
	}

	return g, nil
}

func selectProvider(cfg *common.ProxyConfig) (Provider, string, error) {
	switch {
	case cfg.VPN.Enabled:
		return NewVPNProvider(), string(ProviderVPN), nil
	case cfg.ProxyScrape.Enabled:
		return NewProxyScrapeProvider(cfg.ProxyScrape), string(ProviderProxyScrape), nil
	case cfg.Oxylabs.Enabled:
		return NewOxylabsProvider(cfg.Oxylabs), string(ProviderOxylabs), nil
	default:
		return nil, "", &engineerrors.ConfigurationError{Reason: "no proxy provider enabled: direct egress is not permitted"}
	}
}

// Fetch performs one HTTP request through the gateway's selected provider.
// A 407 means the provider's credentials/pool are exhausted and is
// surfaced as a ProxyExhaustedError — no point retrying, more attempts
// through the same exhausted pool won't help. A 429 is returned as-is
// (status 429, nil error) so the caller's Adaptive Rate Limiter — not the
// gateway — decides how to react. A 502/525 gets exactly one retry after
// a fixed 2-second sleep; a second failure is surfaced like any other
// non-2xx. Everything else that fails here (a persistent 429, a 5xx,
// 404) is the Adaptive Rate Limiter's retry ladder's job, one level up.
func (g *Gateway) Fetch(ctx context.Context, url string, opts *interfaces.FetchOptions) (*http.Response, error) {
	resp, err := g.do(ctx, url, opts)
	if err == nil && isTransientGatewayStatus(resp.StatusCode) {
		resp.Body.Close()
		select {
		case <-time.After(transientGatewaySleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		resp, err = g.do(ctx, url, opts)
	}

	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusTooManyRequests {
		status := resp.StatusCode
		resp.Body.Close()
		return nil, &engineerrors.UpstreamStatusError{URL: url, Status: status}
	}

	return resp, nil
}

func isTransientGatewayStatus(status int) bool {
	return status == http.StatusBadGateway || status == 525
}

// do performs exactly one attempt and translates network/proxy-pool
// failures into their typed errors.
func (g *Gateway) do(ctx context.Context, url string, opts *interfaces.FetchOptions) (*http.Response, error) {
	method := http.MethodGet
	var body []byte
	var headers map[string]string
	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		body = opts.Body
		headers = opts.Headers
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	r, err := g.client.Do(req)
	g.recordAttempt(err == nil && r != nil && r.StatusCode < 400)

	if err != nil {
		return nil, &engineerrors.NetworkError{URL: url, Err: err}
	}

	if r.StatusCode == http.StatusProxyAuthRequired {
		r.Body.Close()
		return nil, &engineerrors.ProxyExhaustedError{Provider: string(g.provider.Kind()), Detail: "received 407 from upstream proxy"}
	}

	r.Body = &countingBody{ReadCloser: r.Body, gateway: g}
	return r, nil
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

func (g *Gateway) recordAttempt(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.TotalRequests++
	if success {
		g.stats.SuccessfulRequests++
	} else {
		g.stats.FailedRequests++
	}
	g.stats.LastRequestTime = time.Now().Format(time.RFC3339)
}

// recordBytes accumulates response body bytes as the caller reads them
// and derives estimated cost as spec.md §4.2 defines it: dataUsage_GB *
// provider_rate. Counting on Read (rather than buffering the whole body
// up front) keeps streaming responses from being fully read into memory
// just for accounting.
func (g *Gateway) recordBytes(n int64) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.EstimatedBytes += n
	gb := float64(n) / (1 << 30)
	g.stats.EstimatedCostUSD += gb * g.provider.DataRatePerGB()
}

// countingBody wraps a response body so every byte the caller actually
// reads is attributed to the gateway's cost model.
type countingBody struct {
	io.ReadCloser
	gateway *Gateway
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.gateway.recordBytes(int64(n))
	}
	return n, err
}

func (g *Gateway) Stats() interfaces.GatewayStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
