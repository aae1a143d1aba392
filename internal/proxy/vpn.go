package proxy

import "net/url"

// vpnProvider models egress through a local VPN client already bound to
// the host's default route. It attaches no proxy at all — Fetch uses the
// default transport.
type vpnProvider struct{}

func NewVPNProvider() Provider { return &vpnProvider{} }

func (p *vpnProvider) Kind() ProviderKind { return ProviderVPN }

func (p *vpnProvider) ProxyURL() (*url.URL, error) { return nil, nil }

func (p *vpnProvider) DataRatePerGB() float64 { return 0 }
