package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func TestPolicyShouldRetryRespectsMaxAttempts(t *testing.T) {
	p := NewPolicy(3, 2.0, 10*time.Second)
	if p.ShouldRetry(3, 500, nil) {
		t.Error("expected no retry once MaxAttempts reached")
	}
	if !p.ShouldRetry(0, 429, nil) {
		t.Error("expected retry on 429 within MaxAttempts")
	}
}

func TestPolicyShouldNotRetryClientErrors(t *testing.T) {
	p := NewPolicy(3, 2.0, 10*time.Second)
	if p.ShouldRetry(0, 404, nil) {
		t.Error("expected no retry on 404")
	}
}

func TestPolicyCalculateBackoffGrows(t *testing.T) {
	p := NewPolicy(5, 2.0, time.Second)
	b0 := p.CalculateBackoff(0)
	b3 := p.CalculateBackoff(3)
	if b3 < b0 {
		t.Errorf("expected later attempt to back off further: b0=%v b3=%v", b0, b3)
	}
	if b3 > p.MaxBackoff+p.MaxBackoff/4 {
		t.Errorf("expected backoff capped near MaxBackoff, got %v", b3)
	}
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	p := NewPolicy(3, 2.0, 50*time.Millisecond)
	p.InitialBackoff = time.Millisecond
	logger := arbor.NewLogger()

	attempts := 0
	status, err := p.Execute(context.Background(), logger, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 503, nil
		}
		return 200, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 {
		t.Errorf("expected final status 200, got %d", status)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	p := NewPolicy(3, 2.0, 50*time.Millisecond)
	p.InitialBackoff = time.Millisecond
	logger := arbor.NewLogger()

	attempts := 0
	_, err := p.Execute(context.Background(), logger, func() (int, error) {
		attempts++
		return 0, errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}
