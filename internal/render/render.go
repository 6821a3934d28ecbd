// Package render turns a markdown summary into the bodies each notification
// channel sends: an HTML email page and plain text for SMS and push.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/period"
)

// Input is the data an email body is rendered from.
type Input struct {
	Title    string
	Period   period.BillingPeriod
	Summary  string
	Accounts []bridge.Account
}

type transactionRow struct {
	Date        string
	Account     string
	Description string
	Amount      string
	Negative    bool
	Pending     bool
}

type emailData struct {
	Title        string
	Period       string
	Summary      template.HTML
	Transactions []transactionRow
	Generated    string
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>
body { font-family: Arial, sans-serif; color: #2a2a2a; background-color: #f0f7f4; margin: 0; padding: 0; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.card { background-color: #ffffff; padding: 20px; border-radius: 16px; margin-bottom: 20px; }
.title { color: #2e7d32; font-size: 26px; font-weight: bold; }
.period { color: #6a6a6a; font-size: 14px; }
.transactions { width: 100%; border-collapse: collapse; margin-top: 20px; }
.transactions th { background-color: #2e7d32; color: #ffffff; padding: 10px; text-align: left; }
.transactions td { padding: 10px; border-bottom: 1px solid #e8f5e9; }
.negative { color: #c62828; }
.footer { text-align: center; color: #4a4a4a; font-size: 12px; }
</style>
</head>
<body>
<div class="container">
<div class="card">
<div class="title">{{.Title}}</div>
<div class="period">{{.Period}}</div>
</div>
<div class="card">
<div class="summary">{{.Summary}}</div>
{{if .Transactions}}
<table class="transactions">
<tr><th>Date</th><th>Account</th><th>Description</th><th>Amount</th></tr>
{{range .Transactions}}<tr><td>{{.Date}}</td><td>{{.Account}}</td><td>{{.Description}}{{if .Pending}} (pending){{end}}</td><td{{if .Negative}} class="negative"{{end}}>{{.Amount}}</td></tr>
{{end}}</table>
{{end}}
</div>
<div class="footer">Generated {{.Generated}}. This is an automated message.</div>
</div>
</body>
</html>
`))

// MarkdownToHTML converts markdown to an HTML fragment.
func MarkdownToHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(markdown.ToHTML([]byte(md), p, r))
}

// Email renders the full HTML email page. now stamps the footer.
func Email(in Input, now time.Time) (string, error) {
	data := emailData{
		Title:        in.Title,
		Period:       in.Period.String(),
		Summary:      template.HTML(MarkdownToHTML(in.Summary)),
		Transactions: rows(in.Accounts),
		Generated:    now.Format("2006-01-02 15:04"),
	}
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

func rows(accounts []bridge.Account) []transactionRow {
	type dated struct {
		at  time.Time
		row transactionRow
	}
	var all []dated
	for _, a := range accounts {
		for _, tx := range a.Transactions {
			at := tx.When()
			all = append(all, dated{at: at, row: transactionRow{
				Date:        at.Format("2006-01-02 15:04"),
				Account:     a.Name,
				Description: tx.Description,
				Amount:      tx.Amount.StringFixed(2),
				Negative:    tx.Amount.IsNegative(),
				Pending:     tx.Pending,
			}})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.After(all[j].at) })
	out := make([]transactionRow, len(all))
	for i, d := range all {
		out[i] = d.row
	}
	return out
}

var (
	boldPattern    = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicPattern  = regexp.MustCompile(`\*([^*\n]+?)\*`)
	headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	codePattern    = regexp.MustCompile("`([^`\n]*)`")
)

// PlainText strips markdown emphasis, headings and inline code so the text
// reads cleanly on channels that do not render markdown.
func PlainText(md string) string {
	text := boldPattern.ReplaceAllString(md, "$1$2")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = headingPattern.ReplaceAllString(text, "")
	text = codePattern.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
