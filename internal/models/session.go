package models

import "time"

// Session is the transient (in-memory, optionally disk-cached) credential
// set Stage 1/2/3 requests carry. Created on demand, refreshed on 403 or
// an empty-result marker, discarded on cleanup.
type Session struct {
	Cookies    string    `json:"cookies"`
	CSRFToken  string    `json:"csrf_token,omitempty"`
	BuildID    string    `json:"build_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session should be refreshed before further use.
func (s *Session) Expired() bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}
