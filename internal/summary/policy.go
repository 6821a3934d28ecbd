package summary

import (
	"errors"
	"math"
	"time"
)

// RetryPolicy bounds the attempts made against the text-generation service.
// The wait after attempt n (counted from 1) is InitialDelay * Multiplier^(n-1),
// capped at MaxDelay when MaxDelay is positive.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryPolicy returns 50 attempts doubling from 500ms, capped at 5 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  50,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
	}
}

// Validate reports a policy that could never make a call or would not back off.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry policy: max attempts must be at least 1")
	case p.InitialDelay < 0:
		return errors.New("retry policy: initial delay must not be negative")
	case p.Multiplier < 1:
		return errors.New("retry policy: multiplier must be at least 1")
	case p.MaxDelay < 0:
		return errors.New("retry policy: max delay must not be negative")
	}
	return nil
}

// Delay returns the wait after the given failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
