// Package session implements C1, the Upstream Session: acquiring cookies
// and a CSRF token from the landing page, and resolving the current
// Next.js build id every /_next/data/ request needs.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/tidwall/gjson"
	"github.com/ternarybob/arbor"
)

var buildManifestPattern = regexp.MustCompile(`_next/(?:static|data)/([A-Za-z0-9_-]+)/`)

// Session implements interfaces.UpstreamSession. It is a process-wide
// singleton: every stage shares the same acquired cookies/CSRF/build id,
// guarded by mu.
type Session struct {
	gateway interfaces.ProxyGateway
	cfg     common.SessionConfig
	logger  arbor.ILogger

	mu      sync.Mutex
	current *models.Session
}

// New wires a Session on top of the shared Proxy Gateway.
func New(logger arbor.ILogger, gateway interfaces.ProxyGateway, cfg common.SessionConfig) *Session {
	return &Session{gateway: gateway, cfg: cfg, logger: logger}
}

// Headers builds the request header set every stage's requests carry:
// user-agent/accept-language plus, once acquired, the session cookie and
// CSRF header.
func (s *Session) Headers(sess *models.Session) map[string]string {
	h := map[string]string{
		"User-Agent":      s.cfg.UserAgent,
		"Accept-Language": s.cfg.AcceptLanguage,
		"Accept":          "text/html,application/json",
	}
	if sess != nil {
		if sess.Cookies != "" {
			h["Cookie"] = sess.Cookies
		}
		if sess.CSRFToken != "" {
			h["X-CSRF-Token"] = sess.CSRFToken
		}
	}
	return h
}

// Acquire performs a GET against the landing page, harvests cookies and
// scans for a CSRF token. A missing token is logged as a warning, not
// returned as an error — downstream requests simply omit the header.
func (s *Session) Acquire(ctx context.Context) (*models.Session, error) {
	resp, err := s.gateway.Fetch(ctx, s.cfg.BaseURL+"/", &interfaces.FetchOptions{Headers: s.Headers(nil)})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	cookies := joinCookies(resp.Cookies())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engineerrors.ParseError{Context: "session acquire body", Err: err}
	}

	token, found := scanCSRFToken(body)
	if !found {
		s.logger.Warn().Str("url", s.cfg.BaseURL).Msg("no CSRF token found on landing page, continuing without one")
	}

	now := time.Now()
	sess := &models.Session{
		Cookies:    cookies,
		CSRFToken:  token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	return sess, nil
}

// BuildID loads /segmentering and extracts the Next.js build id, first
// from the __NEXT_DATA__ script blob, falling back to scanning static
// asset paths for the same id. The result is cached on sess.
func (s *Session) BuildID(ctx context.Context, sess *models.Session) (string, error) {
	if sess.BuildID != "" {
		return sess.BuildID, nil
	}

	resp, err := s.gateway.Fetch(ctx, s.cfg.BaseURL+"/segmentering", &interfaces.FetchOptions{Headers: s.Headers(sess)})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &engineerrors.ParseError{Context: "build id page body", Err: err}
	}

	buildID, err := extractBuildID(body)
	if err != nil {
		return "", err
	}

	sess.BuildID = buildID
	return buildID, nil
}

// WithSession runs op with the current (or freshly acquired) session,
// retrying up to 3 attempts total. A 403-class upstream status or an
// EmptyResultError on any attempt triggers a full session refresh before
// the next retry; any other error is returned immediately.
func (s *Session) WithSession(ctx context.Context, op func(ctx context.Context, sess *models.Session) error) error {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sess, err := s.currentOrAcquire(ctx)
		if err != nil {
			return err
		}

		lastErr = op(ctx, sess)
		if lastErr == nil {
			return nil
		}

		if !needsRefresh(lastErr) {
			return lastErr
		}

		s.logger.Warn().Int("attempt", attempt).Err(lastErr).Msg("session looks blocked, acquiring a fresh one")
		s.invalidate()
	}

	return lastErr
}

func (s *Session) currentOrAcquire(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur != nil && !cur.Expired() {
		return cur, nil
	}
	return s.Acquire(ctx)
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func needsRefresh(err error) bool {
	var statusErr *engineerrors.UpstreamStatusError
	if errors.As(err, &statusErr) && statusErr.IsClientBlock() {
		return true
	}
	var emptyErr *interfaces.EmptyResultError
	return errors.As(err, &emptyErr)
}

func joinCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return strings.Join(parts, "; ")
}

var csrfJSONPattern = regexp.MustCompile(`"__RequestVerificationToken"\s*:\s*"([^"]+)"`)

// scanCSRFToken tries the ordered patterns spec.md lays out: a hidden
// form input first, then a meta tag, then a raw JSON literal.
func scanCSRFToken(body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err == nil {
		if val, ok := doc.Find(`input[name="__RequestVerificationToken"]`).Attr("value"); ok && val != "" {
			return val, true
		}
		if val, ok := doc.Find(`meta[name="__RequestVerificationToken"]`).Attr("content"); ok && val != "" {
			return val, true
		}
	}

	if m := csrfJSONPattern.FindSubmatch(body); m != nil {
		return string(m[1]), true
	}
	return "", false
}

// extractBuildID looks for the __NEXT_DATA__ JSON blob first, then falls
// back to scanning any _next/static or _next/data asset path for the id.
func extractBuildID(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err == nil {
		if blob := doc.Find(`script#__NEXT_DATA__`).Text(); blob != "" {
			if id := gjson.Get(blob, "buildId"); id.Exists() && id.String() != "" {
				return id.String(), nil
			}
		}
	}

	if m := buildManifestPattern.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}

	return "", &engineerrors.ParseError{Context: "build id extraction", Err: fmt.Errorf("no __NEXT_DATA__ blob or _next asset path found")}
}

var _ interfaces.UpstreamSession = (*Session)(nil)
