// Package summary turns a billing period's account data into a natural
// language summary using a chat completion service, retrying with
// exponential backoff until the response is usable or the policy gives up.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/metrics"
)

// ErrSummaryFailed is returned once the retry budget is exhausted.
var ErrSummaryFailed = errors.New("summary generation failed")

// Completer is the text-generation collaborator.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Result is a generated summary.
type Result struct {
	Text     string
	Attempts int
}

// sleepHook waits for d or until ctx is done. Tests replace it.
var sleepHook = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generator produces summaries under a RetryPolicy.
type Generator struct {
	completer Completer
	policy    RetryPolicy
}

// NewGenerator returns a Generator. An invalid policy is replaced by the default.
func NewGenerator(c Completer, policy RetryPolicy) *Generator {
	if err := policy.Validate(); err != nil {
		logging.Get().Warn().Err(err).Msg("using default retry policy")
		policy = DefaultRetryPolicy()
	}
	return &Generator{completer: c, policy: policy}
}

// Policy returns the effective retry policy.
func (g *Generator) Policy() RetryPolicy { return g.policy }

// Summarize builds the prompt for req and calls the completer until it
// returns usable text. Both transport errors and malformed responses consume
// an attempt.
func (g *Generator) Summarize(ctx context.Context, req Request) (Result, error) {
	prompt := BuildPrompt(req)
	logging.Get().Debug().Str("prompt", prompt).Msg("generated summary prompt")
	messages := Messages(prompt)

	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		text, err := g.completer.Complete(ctx, messages)
		if err == nil {
			metrics.IncSummaryAttempt(true)
			logging.Get().Info().Int("attempt", attempt).Msg("summary generated")
			return Result{Text: text, Attempts: attempt}, nil
		}
		metrics.IncSummaryAttempt(false)
		lastErr = err
		if attempt == g.policy.MaxAttempts {
			break
		}
		d := g.policy.Delay(attempt)
		logging.Get().Warn().Err(err).Int("attempt", attempt).Dur("delay", d).Msg("summary attempt failed, retrying")
		if err := sleepHook(ctx, d); err != nil {
			return Result{Attempts: attempt}, fmt.Errorf("%w: interrupted after %d attempts: %w", ErrSummaryFailed, attempt, err)
		}
	}
	return Result{Attempts: g.policy.MaxAttempts}, fmt.Errorf("%w after %d attempts: %w", ErrSummaryFailed, g.policy.MaxAttempts, lastErr)
}
