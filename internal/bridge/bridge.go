// Package bridge fetches account and transaction data from a SimpleFIN bridge.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/period"
)

// ErrFetch is returned (wrapped) when the bridge is unreachable or answers with
// something that is not an accounts document.
var ErrFetch = errors.New("bridge fetch failed")

// Transaction is a single posted or pending transaction.
type Transaction struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Posted       int64           `json:"posted"`
	TransactedAt *int64          `json:"transacted_at,omitempty"`
	Pending      bool            `json:"pending,omitempty"`
}

// When returns the transaction time, preferring transacted_at over posted.
func (t Transaction) When() time.Time {
	if t.TransactedAt != nil {
		return time.Unix(*t.TransactedAt, 0)
	}
	return time.Unix(t.Posted, 0)
}

// Organization is the institution holding an account.
type Organization struct {
	Domain string `json:"domain,omitempty"`
	Name   string `json:"name,omitempty"`
	ID     string `json:"id,omitempty"`
}

// Account is one linked account with the transactions inside the requested period.
type Account struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Currency         string           `json:"currency"`
	Balance          decimal.Decimal  `json:"balance"`
	AvailableBalance *decimal.Decimal `json:"available-balance,omitempty"`
	BalanceDate      int64            `json:"balance-date"`
	Org              Organization     `json:"org"`
	Transactions     []Transaction    `json:"transactions,omitempty"`
}

// Result is what one fetch returns. Errors carries the bridge's own
// per-institution error messages; they do not fail the fetch.
type Result struct {
	Accounts []Account `json:"accounts"`
	Errors   []string  `json:"errors,omitempty"`
}

// Bridge is the external financial-data source.
type Bridge interface {
	Fetch(ctx context.Context, p period.BillingPeriod) (Result, error)
}

// Client talks to a SimpleFIN bridge over HTTP. Credentials, when needed, ride
// in the base URL's userinfo.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch requests accounts with transactions between the period's first and last second.
func (c *Client) Fetch(ctx context.Context, p period.BillingPeriod) (Result, error) {
	q := url.Values{}
	q.Set("start-date", strconv.FormatInt(p.StartUnix(), 10))
	q.Set("end-date", strconv.FormatInt(p.EndUnix(), 10))
	endpoint := c.baseURL + "/accounts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	logging.Get().Debug().Str("period", p.String()).Msg("fetching accounts from bridge")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode accounts: %v", ErrFetch, err)
	}
	for _, a := range out.Accounts {
		logging.Get().Debug().
			Str("account_id", a.ID).
			Str("name", a.Name).
			Str("balance", a.Balance.String()).
			Time("balance_date", time.Unix(a.BalanceDate, 0)).
			Int("transactions", len(a.Transactions)).
			Msg("account fetched")
	}
	return out, nil
}
