package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/allabolag/scraper/internal/common"
)

// proxyScrapeProvider targets ProxyScrape's rotating residential pool,
// round-robining across the configured port list and optionally baking
// the target country into the proxy username per ProxyScrape's
// convention (username-country-<cc>).
type proxyScrapeProvider struct {
	cfg      common.ProxyScrapeConfig
	nextPort uint64
}

func NewProxyScrapeProvider(cfg common.ProxyScrapeConfig) Provider {
	return &proxyScrapeProvider{cfg: cfg}
}

func (p *proxyScrapeProvider) Kind() ProviderKind { return ProviderProxyScrape }

func (p *proxyScrapeProvider) ProxyURL() (*url.URL, error) {
	if len(p.cfg.Ports) == 0 {
		return nil, fmt.Errorf("proxyscrape: no ports configured")
	}
	idx := atomic.AddUint64(&p.nextPort, 1) - 1
	port := p.cfg.Ports[idx%uint64(len(p.cfg.Ports))]

	username := p.cfg.Username
	if p.cfg.CountryInUsername && p.cfg.Country != "" {
		username = fmt.Sprintf("%s-country-%s", username, p.cfg.Country)
	}

	return buildProxyURL(username, p.cfg.Password, p.cfg.Host, port)
}

// DataRatePerGB: ProxyScrape's pool is residential, so it takes the
// richer per-GB rate.
func (p *proxyScrapeProvider) DataRatePerGB() float64 { return residentialRatePerGB }
