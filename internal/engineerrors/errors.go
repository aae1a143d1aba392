// Package engineerrors defines the error taxonomy shared by every stage of
// the scraping pipeline. These are kinds, not sentinel values: callers use
// errors.As to recover the typed payload and decide how to react, the same
// way the rest of the module checks for badgerhold.ErrNotFound.
package engineerrors

import "fmt"

// ConfigurationError is fatal and surfaced to the operator. Raised for
// missing/invalid proxy credentials on an enabled provider, or invalid
// filter bounds.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NetworkError wraps transient DNS/connection/TLS/timeout failures. It is
// retried per the rate limiter's retry ladder.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamStatusError wraps a non-2xx HTTP response from the upstream site.
type UpstreamStatusError struct {
	URL    string
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d for %s", e.Status, e.URL)
}

// IsClientBlock reports whether the status indicates the session was
// rejected (403) or requires refresh.
func (e *UpstreamStatusError) IsClientBlock() bool {
	return e.Status == 403
}

// ParseError covers build-id-not-found and unexpected JSON/HTML shapes.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProxyExhaustedError indicates every configured proxy port/pool is
// saturated; the gateway also returns it for a 407 from the proxy. The job
// controller marks the job `error` on it, as on any stage error, and
// Resume accepts jobs in `error`, so the job stays resumable.
type ProxyExhaustedError struct {
	Provider string
	Detail   string
}

func (e *ProxyExhaustedError) Error() string {
	return fmt.Sprintf("proxy exhausted (%s): %s", e.Provider, e.Detail)
}

// StorageError wraps a staging-store failure. Always surfaced, never
// silently swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("staging store error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
