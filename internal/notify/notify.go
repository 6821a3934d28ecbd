// Package notify delivers summaries over SMS, email and push channels.
//
// Each channel reports whether it is configured before it is used. The
// Dispatcher walks the requested channels in a fixed order, skips the ones
// that are not configured and records a per-channel result; one channel
// failing never stops the others.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/period"
)

// ErrChannelSend wraps every error a channel returns from Send.
var ErrChannelSend = errors.New("channel send failed")

// Kind names a notification channel.
type Kind string

const (
	SMS   Kind = "sms"
	Email Kind = "email"
	Push  Kind = "push"
)

// AllKinds returns every channel kind in dispatch order.
func AllKinds() []Kind { return []Kind{SMS, Email, Push} }

// ParseKinds parses channel names such as "sms,email". "ntfy" is accepted for push.
func ParseKinds(names []string) ([]Kind, error) {
	var out []Kind
	seen := map[Kind]bool{}
	for _, n := range names {
		var k Kind
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "":
			continue
		case "sms":
			k = SMS
		case "email", "mail":
			k = Email
		case "push", "ntfy":
			k = Push
		default:
			return nil, fmt.Errorf("unknown notification channel %q", n)
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// Message is what a channel renders into its own payload.
type Message struct {
	Title    string
	Summary  string
	Period   period.BillingPeriod
	Accounts []bridge.Account
}

// Channel is one delivery mechanism.
type Channel interface {
	Kind() Kind
	// Configured reports whether every setting Send needs is present.
	Configured() bool
	Send(ctx context.Context, msg Message) error
}

// Warner is implemented by channels that carry out-of-band warnings.
type Warner interface {
	Warn(ctx context.Context, title, text string) error
}

// Status is the outcome of dispatching to one channel.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ChannelResult records what happened on one channel.
type ChannelResult struct {
	Channel Kind
	Status  Status
	Err     error
}

func (r ChannelResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", r.Channel, r.Status, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Channel, r.Status)
}

// AnySent reports whether at least one channel delivered.
func AnySent(results []ChannelResult) bool {
	for _, r := range results {
		if r.Status == StatusSent {
			return true
		}
	}
	return false
}

// AllSkipped reports whether results is non-empty and every channel was skipped.
func AllSkipped(results []ChannelResult) bool {
	for _, r := range results {
		if r.Status != StatusSkipped {
			return false
		}
	}
	return len(results) > 0
}
