package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/spendwatch/spendwatch/internal/render"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	To      []string
	Subject string
}

// SMTPEmail sends the rendered HTML summary, one submission per recipient.
type SMTPEmail struct {
	cfg EmailConfig
	now func() time.Time
}

func NewSMTPEmail(cfg EmailConfig) *SMTPEmail {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPEmail{cfg: cfg, now: time.Now}
}

func (e *SMTPEmail) Kind() Kind { return Email }

func (e *SMTPEmail) Configured() bool {
	return e.cfg.Host != "" && e.cfg.From != "" && len(recipients(e.cfg.To)) > 0
}

func (e *SMTPEmail) Send(ctx context.Context, msg Message) error {
	title := msg.Title
	if title == "" {
		title = e.cfg.Subject
	}
	html, err := render.Email(render.Input{Title: title, Period: msg.Period, Summary: msg.Summary, Accounts: msg.Accounts}, e.now())
	if err != nil {
		return err
	}
	subject := e.cfg.Subject
	if subject == "" {
		subject = title
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.User != "" {
		auth = smtp.PlainAuth("", e.cfg.User, e.cfg.Pass, e.cfg.Host)
	}

	var errs []error
	for _, to := range recipients(e.cfg.To) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := sendMailHook(addr, auth, e.cfg.From, []string{to}, buildMessage(e.cfg.From, to, subject, html)); err != nil {
			errs = append(errs, fmt.Errorf("email to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func buildMessage(from, to, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(subject, "\n", " "))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(html)
	return []byte(b.String())
}
