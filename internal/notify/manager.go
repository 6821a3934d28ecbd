package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/metrics"
)

// ErrNoWarningChannel is returned by Warn when no configured channel carries warnings.
var ErrNoWarningChannel = errors.New("no warning channel configured")

// channel retry settings (can be tuned in tests)
var defaultChannelAttempts = 1
var channelBaseBackoff = 2 * time.Second

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

// Dispatcher fans a message out to registered channels, one at a time.
type Dispatcher struct {
	channels map[Kind]Channel
	attempts int
}

// NewDispatcher registers channels by kind. Later channels replace earlier ones of the same kind.
func NewDispatcher(channels ...Channel) *Dispatcher {
	d := &Dispatcher{channels: make(map[Kind]Channel), attempts: defaultChannelAttempts}
	for _, c := range channels {
		if c != nil {
			d.channels[c.Kind()] = c
		}
	}
	return d
}

// SetAttempts sets how many times a failing channel is tried per dispatch.
func (d *Dispatcher) SetAttempts(n int) {
	if n < 1 {
		n = 1
	}
	d.attempts = n
}

// Configured returns the registered kinds whose channel is configured, in dispatch order.
func (d *Dispatcher) Configured() []Kind {
	var out []Kind
	for _, k := range AllKinds() {
		if c, ok := d.channels[k]; ok && c.Configured() {
			out = append(out, k)
		}
	}
	return out
}

// Dispatch sends msg to each requested channel in SMS, Email, Push order and
// returns one result per requested channel. It never returns an error;
// failures are recorded in the results.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, requested []Kind) []ChannelResult {
	want := make(map[Kind]bool, len(requested))
	for _, k := range requested {
		want[k] = true
	}
	results := make([]ChannelResult, 0, len(want))
	for _, k := range AllKinds() {
		if !want[k] {
			continue
		}
		res := d.dispatchOne(ctx, k, msg)
		metrics.IncChannelResult(string(res.Channel), string(res.Status))
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, k Kind, msg Message) ChannelResult {
	c, ok := d.channels[k]
	if !ok {
		logging.Get().Debug().Str("channel", string(k)).Msg("channel not registered, skipping")
		return ChannelResult{Channel: k, Status: StatusSkipped, Err: errors.New("not registered")}
	}
	if !c.Configured() {
		logging.Get().Debug().Str("channel", string(k)).Msg("channel not configured, skipping")
		return ChannelResult{Channel: k, Status: StatusSkipped}
	}
	if err := d.sendWithRetries(ctx, c, msg); err != nil {
		logging.Get().Error().Err(err).Str("channel", string(k)).Msg("notification failed")
		return ChannelResult{Channel: k, Status: StatusFailed, Err: err}
	}
	logging.Get().Info().Str("channel", string(k)).Msg("notification sent")
	return ChannelResult{Channel: k, Status: StatusSent}
}

// sendWithRetries calls Send up to d.attempts times, backing off base*2^(n-1)
// between attempts. A panic inside a channel is reported as a failure.
func (d *Dispatcher) sendWithRetries(ctx context.Context, c Channel, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		lastErr = safeSend(ctx, c, msg)
		if lastErr == nil {
			return nil
		}
		if attempt < d.attempts {
			backoff := channelBaseBackoff * time.Duration(1<<uint(attempt-1))
			logging.Get().Warn().Err(lastErr).Str("channel", string(c.Kind())).Int("attempt", attempt).Dur("delay", backoff).Msg("notification attempt failed")
			if err := sleepHook(ctx, backoff); err != nil {
				return fmt.Errorf("%w: %w", ErrChannelSend, err)
			}
		}
	}
	return lastErr
}

func safeSend(ctx context.Context, c Channel, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrChannelSend, c.Kind(), r)
		}
	}()
	if err := c.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrChannelSend) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrChannelSend, err)
	}
	return nil
}

// Warn sends an out-of-band warning through the first configured channel that
// supports warnings.
func (d *Dispatcher) Warn(ctx context.Context, title, text string) error {
	for _, k := range AllKinds() {
		c, ok := d.channels[k]
		if !ok || !c.Configured() {
			continue
		}
		if w, ok := c.(Warner); ok {
			if err := w.Warn(ctx, title, text); err != nil {
				return fmt.Errorf("%w: %s warning: %w", ErrChannelSend, k, err)
			}
			return nil
		}
	}
	return ErrNoWarningChannel
}
