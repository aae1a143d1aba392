package interfaces

import "context"

// Outcome records the result of one rate-limited operation attempt, fed
// into the adaptive limiter's rolling outcome window.
type Outcome struct {
	Success   bool
	Status    int
	DurationMS int64
	Err       error
}

// Operation is one unit of work the rate limiter schedules. It returns the
// HTTP-ish status it observed (0 if not applicable) and an error.
type Operation func(ctx context.Context) (status int, err error)

// StageRateLimiter implements C3 for a single pipeline stage: a bounded
// worker pool executing Operations at an adaptively-tuned
// concurrency/delay, with a separate, more aggressive reaction to observed
// 429s.
type StageRateLimiter interface {
	Execute(ctx context.Context, op Operation) error
	Stats() LimiterStats
}

// LimiterStats exposes the limiter's current tuning, surfaced on
// Job.RateLimitStats.
type LimiterStats struct {
	Concurrent int
	DelayMS    int64
	Last50FailureRate float64
	NightMode  bool
}
