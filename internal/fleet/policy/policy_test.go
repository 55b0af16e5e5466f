package policy

import (
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	before := *c
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c.Retry != before.Retry || c.Squad != before.Squad || c.Loop != before.Loop {
		t.Error("Validate changed default values")
	}
}

func TestValidate_Clamps(t *testing.T) {
	c := &Config{}
	c.Conflict.Strategy = "ast"
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", c.Retry.MaxAttempts)
	}
	if c.Squad.Capacity != 3 {
		t.Errorf("Capacity = %d, want 3", c.Squad.Capacity)
	}
	if c.Drain.Timeout != 30*time.Second {
		t.Errorf("Drain.Timeout = %v, want 30s", c.Drain.Timeout)
	}
	if c.Conflict.Strategy != "line-range" {
		t.Errorf("Strategy = %q, want line-range", c.Conflict.Strategy)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	r := RetryPolicy{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := r.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
