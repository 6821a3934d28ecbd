package notify

import (
	"context"
	"net/http"
	"strings"

	"github.com/spendwatch/spendwatch/internal/render"
)

// PushConfig holds ntfy settings. WarningTopic defaults to Topic + "-warning".
type PushConfig struct {
	Server       string
	Topic        string
	WarningTopic string
	Token        string
}

// Ntfy posts raw text to {server}/{topic}.
type Ntfy struct {
	cfg PushConfig
}

func NewNtfy(cfg PushConfig) *Ntfy { return &Ntfy{cfg: cfg} }

func (n *Ntfy) Kind() Kind { return Push }

func (n *Ntfy) Configured() bool {
	return n.cfg.Server != "" && n.cfg.Topic != ""
}

// InfoURL is where periodic summaries go.
func (n *Ntfy) InfoURL() string {
	return strings.TrimRight(n.cfg.Server, "/") + "/" + n.cfg.Topic
}

// WarningURL is where out-of-band warnings go.
func (n *Ntfy) WarningURL() string {
	topic := n.cfg.WarningTopic
	if topic == "" {
		topic = n.cfg.Topic + "-warning"
	}
	return strings.TrimRight(n.cfg.Server, "/") + "/" + topic
}

func (n *Ntfy) Send(ctx context.Context, msg Message) error {
	return n.publish(ctx, n.InfoURL(), msg.Title, render.PlainText(msg.Summary), "")
}

// Warn publishes text on the warning topic with high priority.
func (n *Ntfy) Warn(ctx context.Context, title, text string) error {
	return n.publish(ctx, n.WarningURL(), title, text, "high")
}

func (n *Ntfy) publish(ctx context.Context, url, title, text, priority string) error {
	return post(ctx, url, "text/plain; charset=utf-8", strings.NewReader(text), func(r *http.Request) {
		if title != "" {
			r.Header.Set("Title", title)
		}
		if priority != "" {
			r.Header.Set("Priority", priority)
			r.Header.Set("Tags", "warning")
		}
		if n.cfg.Token != "" {
			r.Header.Set("Authorization", "Bearer "+n.cfg.Token)
		}
	})
}
