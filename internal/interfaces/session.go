package interfaces

import (
	"context"

	"github.com/allabolag/scraper/internal/models"
)

// UpstreamSession implements C1: it produces the (cookies, csrfToken,
// buildId) triple every downstream request needs.
type UpstreamSession interface {
	// Acquire performs a GET against the landing page (via the Proxy
	// Gateway), harvests Set-Cookie headers and scans for a CSRF token.
	// A missing token is a soft failure — Acquire still succeeds.
	Acquire(ctx context.Context) (*models.Session, error)

	// BuildID loads /segmentering and extracts the Next.js build id,
	// caching it on the session.
	BuildID(ctx context.Context, sess *models.Session) (string, error)

	// WithSession retries op up to 3 times, acquiring a fresh session if
	// op reports a 403-class error or an empty-result marker on the first
	// attempt. The new session fully replaces the old one before retry.
	WithSession(ctx context.Context, op func(ctx context.Context, sess *models.Session) error) error
}

// EmptyResultError is returned by a session-wrapped operation to signal
// "this looks like a blocked/placeholder response, not a real empty page",
// triggering WithSession's session-refresh retry.
type EmptyResultError struct {
	Reason string
}

func (e *EmptyResultError) Error() string { return "empty result: " + e.Reason }
