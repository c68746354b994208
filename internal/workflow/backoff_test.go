package workflow

import (
	"testing"
	"time"
)

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	policy := NewRetryPolicy(time.Minute, time.Hour)

	expected := []time.Duration{
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		32 * time.Minute,
		time.Hour,
		time.Hour,
	}
	for i, want := range expected {
		attempt := i + 1
		got := policy.DelayForAttempt(attempt)
		if got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestRetryDelayIsMonotone(t *testing.T) {
	policy := NewRetryPolicy(30*time.Second, 10*time.Minute)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		got := policy.DelayForAttempt(attempt)
		if got < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, got, prev)
		}
		if got > 10*time.Minute {
			t.Fatalf("delay exceeded cap at attempt %d: %v", attempt, got)
		}
		prev = got
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := NewRetryPolicy(0, 0)
	if got := policy.DelayForAttempt(1); got != time.Minute {
		t.Fatalf("expected default base of 1m, got %v", got)
	}
	if got := policy.DelayForAttempt(0); got != time.Minute {
		t.Fatalf("attempt below 1 should clamp, got %v", got)
	}
}
