// internal/errors/retry_test.go
package errors

import (
	"testing"
	"time"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

func TestRetryPolicy_DelaySequence(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 10, BaseDelaySeconds: 1, MaxDelaySeconds: 10})

	want := []float64{1, 2, 4, 8, 10, 10, 10}
	for attempt, expected := range want {
		if got := policy.DelaySeconds(attempt); got != expected {
			t.Errorf("Attempt %d: expected %.0f, got %v", attempt, expected, got)
		}
	}
}

func TestRetryPolicy_DelayMonotoneAndBounded(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())
	prev := 0.0
	for attempt := 0; attempt < 200; attempt++ {
		d := policy.DelaySeconds(attempt)
		if d > DefaultMaxDelay {
			t.Fatalf("Attempt %d: delay %v exceeds max", attempt, d)
		}
		if d < prev {
			t.Fatalf("Attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestRetryPolicy_JitterStaysWithinTenPercent(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelaySeconds: 1, MaxDelaySeconds: 60, Jitter: true})
	for i := 0; i < 100; i++ {
		d := policy.DelaySeconds(3)
		if d < 7.2 || d > 8.8 {
			t.Fatalf("Expected jittered delay within 8s +/- 10%%, got %v", d)
		}
	}
	for i := 0; i < 100; i++ {
		if d := policy.DelaySeconds(20); d > 60 {
			t.Fatalf("Expected jittered delay capped at 60, got %v", d)
		}
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		name    string
		attempt int
		kind    types.ErrorKind
		want    bool
	}{
		{"network first attempt", 0, types.ErrNetwork, true},
		{"network at budget", 5, types.ErrNetwork, false},
		{"timeout mid budget", 3, types.ErrTimeout, true},
		{"rate limited", 2, types.ErrRateLimited, true},
		{"auth", 0, types.ErrAuthRequired, false},
		{"not found", 0, types.ErrNotFound, false},
		{"forbidden", 0, types.ErrForbidden, false},
		{"invalid input", 0, types.ErrInvalidInput, false},
		{"cancelled", 0, types.ErrCancelled, false},
		{"parse once", 0, types.ErrParse, true},
		{"parse twice", 1, types.ErrParse, false},
		{"4xx once", 0, types.ErrUpstream4xx, true},
		{"4xx twice", 1, types.ErrUpstream4xx, false},
		{"extractor", 4, types.ErrExtractorFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.ShouldRetry(tt.attempt, tt.kind); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRetryPolicy_RateLimitedWaitsLonger(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelaySeconds: 1, MaxDelaySeconds: 10})

	if got := policy.Delay(1, types.ErrNetwork); got != 2*time.Second {
		t.Errorf("Expected 2s, got %v", got)
	}
	if got := policy.Delay(1, types.ErrRateLimited); got != 4*time.Second {
		t.Errorf("Expected 4s, got %v", got)
	}
	if got := policy.Delay(4, types.ErrRateLimited); got != 10*time.Second {
		t.Errorf("Expected capped 10s, got %v", got)
	}
}

func TestRetryPolicy_ZeroRetries(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 0, BaseDelaySeconds: 1, MaxDelaySeconds: 1})
	if policy.ShouldRetry(0, types.ErrNetwork) {
		t.Error("Expected no retry with a zero budget")
	}
}
