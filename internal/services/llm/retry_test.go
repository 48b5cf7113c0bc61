package llm

import (
	"errors"
	"testing"
	"time"
)

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("googleapi: Error 429: Resource has been exhausted"), true},
		{errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED"), true},
		{errors.New("quota exceeded for quota metric"), true},
		{errors.New("context deadline exceeded"), false},
		{errors.New("invalid API key"), false},
	}
	for _, tc := range cases {
		if got := IsRateLimitError(tc.err); got != tc.want {
			t.Errorf("IsRateLimitError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestExtractRetryDelay(t *testing.T) {
	cases := []struct {
		err  error
		want time.Duration
	}{
		{nil, 0},
		{errors.New("Error 429. Please retry in 32s"), 32 * time.Second},
		{errors.New("retryDelay: 12s"), 12 * time.Second},
		{errors.New("Please retry in 7.5s"), 7500 * time.Millisecond},
		{errors.New("rate limited"), 0},
	}
	for _, tc := range cases {
		if got := ExtractRetryDelay(tc.err); got != tc.want {
			t.Errorf("ExtractRetryDelay(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := NewDefaultRetryConfig()

	if got := cfg.CalculateBackoff(0, 0); got != DefaultInitialBackoff {
		t.Errorf("attempt 0 backoff = %v, want %v", got, DefaultInitialBackoff)
	}

	// Growth is multiplicative and capped
	first := cfg.CalculateBackoff(0, 0)
	second := cfg.CalculateBackoff(1, 0)
	if second <= first {
		t.Errorf("backoff should grow: %v then %v", first, second)
	}
	if got := cfg.CalculateBackoff(10, 0); got != DefaultMaxBackoff {
		t.Errorf("late attempt backoff = %v, want cap %v", got, DefaultMaxBackoff)
	}

	// API-provided delay plus buffer takes precedence over the default base
	if got := cfg.CalculateBackoff(0, 20*time.Second); got != 25*time.Second {
		t.Errorf("api delay backoff = %v, want 25s", got)
	}
}
