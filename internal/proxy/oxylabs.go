package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/allabolag/scraper/internal/common"
)

// oxylabsProvider targets Oxylabs's residential/ISP/datacenter pools.
// Session stickiness is declared in config (OxylabsSessionType) but only
// "rotate" is implemented; "sticky" falls back to rotate.
type oxylabsProvider struct {
	cfg      common.OxylabsConfig
	nextPort uint64
}

func NewOxylabsProvider(cfg common.OxylabsConfig) Provider {
	return &oxylabsProvider{cfg: cfg}
}

func (p *oxylabsProvider) Kind() ProviderKind { return ProviderOxylabs }

func (p *oxylabsProvider) ProxyURL() (*url.URL, error) {
	port := p.cfg.Port
	if len(p.cfg.Ports) > 0 {
		idx := atomic.AddUint64(&p.nextPort, 1) - 1
		port = p.cfg.Ports[idx%uint64(len(p.cfg.Ports))]
	}
	if port == 0 {
		return nil, fmt.Errorf("oxylabs: no port configured")
	}

	username := p.cfg.Username
	if p.cfg.CountryInUsername && p.cfg.Country != "" {
		username = fmt.Sprintf("customer-%s-cc-%s", username, p.cfg.Country)
	}

	return buildProxyURL(username, p.cfg.Password, "pr.oxylabs.io", port)
}

// DataRatePerGB follows spec.md's two-tier cost model: residential pools
// run richer than datacenter/ISP ones.
func (p *oxylabsProvider) DataRatePerGB() float64 {
	if p.cfg.ProxyType == "" || p.cfg.ProxyType == common.OxylabsResidential {
		return residentialRatePerGB
	}
	return otherRatePerGB
}
