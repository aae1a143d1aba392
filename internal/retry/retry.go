// Package retry implements the exponential-backoff-with-jitter retry ladder
// the Adaptive Rate Limiter runs each operation through. The Proxy
// Gateway's one-shot 502/525 retry is separate and does not use it.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"
)

// Policy defines retry behavior with exponential backoff.
type Policy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes []int
}

// NewPolicy builds a Policy from the stage's configured knobs.
func NewPolicy(maxAttempts int, backoffMultiplier float64, maxBackoff time.Duration) *Policy {
	return &Policy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        maxBackoff,
		BackoffMultiplier: backoffMultiplier,
		RetryableStatusCodes: []int{
			408, 429, 500, 502, 503, 504, 525,
		},
	}
}

// ShouldRetry checks if an attempt should be retried based on attempt count,
// status code, and error type.
func (p *Policy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if statusCode > 0 {
		if p.isRetryableStatusCode(statusCode) {
			return true
		}
		if statusCode >= 400 && statusCode < 500 {
			return false
		}
	}
	if err != nil {
		return isRetryableError(err)
	}
	return false
}

// CalculateBackoff returns the exponential backoff duration with +/-25%
// jitter, for the given zero-indexed attempt.
func (p *Policy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// Execute runs fn, retrying on a retryable status/error until MaxAttempts
// is exhausted or ctx is cancelled. fn always runs at least once, even when
// MaxAttempts is below 1.
func (p *Policy) Execute(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var lastErr error
	var statusCode int

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		statusCode, lastErr = fn()

		if lastErr == nil && !p.isRetryableStatusCode(statusCode) {
			return statusCode, nil
		}

		if !p.ShouldRetry(attempt, statusCode, lastErr) {
			return statusCode, lastErr
		}

		if attempt < attempts-1 {
			backoff := p.CalculateBackoff(attempt)
			if logger != nil {
				logger.Debug().
					Int("attempt", attempt+1).
					Int("status_code", statusCode).
					Err(lastErr).
					Dur("backoff", backoff).
					Msg("retrying after backoff")
			}

			select {
			case <-ctx.Done():
				return statusCode, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return statusCode, lastErr
}

func (p *Policy) isRetryableStatusCode(statusCode int) bool {
	for _, code := range p.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
