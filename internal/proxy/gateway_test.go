package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// fakeProvider routes every request through a local httptest.Server,
// standing in for a real proxy upstream.
type fakeProvider struct {
	proxyURL *url.URL
}

func (p *fakeProvider) Kind() ProviderKind          { return ProviderNone }
func (p *fakeProvider) ProxyURL() (*url.URL, error) { return p.proxyURL, nil }
func (p *fakeProvider) DataRatePerGB() float64      { return residentialRatePerGB }

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	proxyURL, _ := url.Parse(server.URL)

	logger := arbor.NewLogger()
	g := &Gateway{
		provider: &fakeProvider{proxyURL: proxyURL},
		logger:   logger,
	}
	g.client = &http.Client{
		Transport: &http.Transport{
			Proxy: func(req *http.Request) (*url.URL, error) {
				return proxyURL, nil
			},
		},
	}
	return g, server
}

func TestGatewayFetchSuccess(t *testing.T) {
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	defer server.Close()

	resp, err := g.Fetch(context.Background(), "http://example.invalid/page", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("expected body 'ok', got %q", body)
	}

	stats := g.Stats()
	if stats.SuccessfulRequests != 1 {
		t.Errorf("expected 1 successful request, got %d", stats.SuccessfulRequests)
	}
}

func TestGatewayFetchTracksBytesAndCost(t *testing.T) {
	body := "0123456789" // 10 bytes
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
	defer server.Close()

	resp, err := g.Fetch(context.Background(), "http://example.invalid/page", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	resp.Body.Close()

	stats := g.Stats()
	if stats.EstimatedBytes != int64(len(body)) {
		t.Errorf("expected EstimatedBytes %d, got %d", len(body), stats.EstimatedBytes)
	}
	wantCost := float64(len(body)) / (1 << 30) * residentialRatePerGB
	if stats.EstimatedCostUSD != wantCost {
		t.Errorf("expected cost %v, got %v", wantCost, stats.EstimatedCostUSD)
	}
}

func TestGatewayFetchProxyExhausted(t *testing.T) {
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	})
	defer server.Close()

	_, err := g.Fetch(context.Background(), "http://example.invalid/page", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var exhausted *engineerrors.ProxyExhaustedError
	if !asProxyExhausted(err, &exhausted) {
		t.Fatalf("expected ProxyExhaustedError, got %T: %v", err, err)
	}
}

func TestGatewayFetchPassesThrough429(t *testing.T) {
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer server.Close()

	resp, err := g.Fetch(context.Background(), "http://example.invalid/page", nil)
	if err != nil {
		t.Fatalf("expected 429 returned without error, got: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

func TestGatewayFetchRetriesOnce502ThenSucceeds(t *testing.T) {
	calls := 0
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("recovered"))
	})
	defer server.Close()

	start := time.Now()
	resp, err := g.Fetch(context.Background(), "http://example.invalid/page", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer resp.Body.Close()
	if elapsed := time.Since(start); elapsed < transientGatewaySleep {
		t.Errorf("expected the fixed 2s gateway retry sleep, elapsed only %v", elapsed)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls (1 retry), got %d", calls)
	}
}

func TestGatewayFetchFailsAfterSecond502(t *testing.T) {
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer server.Close()

	_, err := g.Fetch(context.Background(), "http://example.invalid/page", nil)
	if err == nil {
		t.Fatal("expected error after second 502")
	}
	var upstreamErr *engineerrors.UpstreamStatusError
	if !asUpstreamStatus(err, &upstreamErr) {
		t.Fatalf("expected UpstreamStatusError, got %T: %v", err, err)
	}
}

func TestGatewayFetchUpstreamStatusError(t *testing.T) {
	g, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	_, err := g.Fetch(context.Background(), "http://example.invalid/missing", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var upstreamErr *engineerrors.UpstreamStatusError
	if !asUpstreamStatus(err, &upstreamErr) {
		t.Fatalf("expected UpstreamStatusError, got %T: %v", err, err)
	}
	if upstreamErr.Status != 404 {
		t.Errorf("expected status 404, got %d", upstreamErr.Status)
	}
}

func asProxyExhausted(err error, target **engineerrors.ProxyExhaustedError) bool {
	e, ok := err.(*engineerrors.ProxyExhaustedError)
	if ok {
		*target = e
	}
	return ok
}

func asUpstreamStatus(err error, target **engineerrors.UpstreamStatusError) bool {
	e, ok := err.(*engineerrors.UpstreamStatusError)
	if ok {
		*target = e
	}
	return ok
}

var _ interfaces.ProxyGateway = (*Gateway)(nil)
