package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/render"
)

var twilioAPIBase = "https://api.twilio.com"

// SMSConfig holds Twilio credentials and recipients.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	// Delay is the pause between recipients.
	Delay time.Duration
}

// TwilioSMS sends one text per recipient through the Twilio messages API.
type TwilioSMS struct {
	cfg SMSConfig
}

func NewTwilioSMS(cfg SMSConfig) *TwilioSMS { return &TwilioSMS{cfg: cfg} }

func (s *TwilioSMS) Kind() Kind { return SMS }

func (s *TwilioSMS) Configured() bool {
	return s.cfg.AccountSID != "" && s.cfg.AuthToken != "" && s.cfg.From != "" && len(recipients(s.cfg.To)) > 0
}

// Send attempts every recipient even when an earlier one fails.
func (s *TwilioSMS) Send(ctx context.Context, msg Message) error {
	body := render.PlainText(msg.Summary)
	if msg.Title != "" {
		body = msg.Title + "\n\n" + body
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(twilioAPIBase, "/"), url.PathEscape(s.cfg.AccountSID))

	var errs []error
	for i, to := range recipients(s.cfg.To) {
		if i > 0 && s.cfg.Delay > 0 {
			if err := sleepHook(ctx, s.cfg.Delay); err != nil {
				errs = append(errs, err)
				break
			}
		}
		form := url.Values{}
		form.Set("From", s.cfg.From)
		form.Set("To", to)
		form.Set("Body", body)
		err := post(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), func(r *http.Request) {
			r.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
		})
		if err != nil {
			logging.Get().Warn().Err(err).Str("to", to).Msg("sms delivery failed")
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
			continue
		}
		logging.Get().Debug().Str("to", to).Msg("sms delivered")
	}
	return errors.Join(errs...)
}

func recipients(list []string) []string {
	var out []string
	for _, r := range list {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
