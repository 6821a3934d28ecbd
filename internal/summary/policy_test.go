package summary

import (
	"testing"
	"time"
)

func TestRetryPolicyDelayProgression(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	p := DefaultRetryPolicy()
	if got := p.Delay(49); got != 5*time.Minute {
		t.Fatalf("expected delay capped at 5m, got %v", got)
	}
	p.MaxDelay = 0
	if got := p.Delay(200); got <= 0 {
		t.Fatalf("uncapped delay must not overflow, got %v", got)
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"zero attempts", RetryPolicy{MaxAttempts: 0, Multiplier: 2}, true},
		{"shrinking", RetryPolicy{MaxAttempts: 3, Multiplier: 0.5}, true},
		{"negative delay", RetryPolicy{MaxAttempts: 3, Multiplier: 2, InitialDelay: -time.Second}, true},
		{"constant", RetryPolicy{MaxAttempts: 3, Multiplier: 1, InitialDelay: time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
