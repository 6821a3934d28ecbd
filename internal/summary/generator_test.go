package summary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/period"
)

type scriptedCompleter struct {
	calls   int
	results []error
	text    string
}

func (s *scriptedCompleter) Complete(ctx context.Context, _ []Message) (string, error) {
	s.calls++
	if s.calls <= len(s.results) && s.results[s.calls-1] != nil {
		return "", s.results[s.calls-1]
	}
	return s.text, nil
}

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleepHook
	sleepHook = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { sleepHook = orig })
	return &slept
}

func testRequest(t *testing.T) Request {
	t.Helper()
	p, err := period.New(time.Date(2026, 10, 1, 0, 0, 0, 0, time.Local), time.Date(2026, 10, 17, 0, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatal(err)
	}
	return Request{Period: p, Accounts: []bridge.Account{{
		ID: "a1", Name: "Checking", Currency: "USD", Balance: decimal.RequireFromString("100"),
		Transactions: []bridge.Transaction{{ID: "t1", Description: "Coffee", Amount: decimal.RequireFromString("-4.5"), Posted: 1760000000}},
	}}}
}

func TestSummarizeRetriesWithBackoff(t *testing.T) {
	slept := recordSleeps(t)
	boom := errors.New("boom")
	c := &scriptedCompleter{results: []error{boom, ErrMalformedResponse, boom}, text: "summary"}
	g := NewGenerator(c, RetryPolicy{MaxAttempts: 10, InitialDelay: 500 * time.Millisecond, Multiplier: 2})

	res, err := g.Summarize(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if res.Text != "summary" || res.Attempts != 4 || c.calls != 4 {
		t.Fatalf("unexpected result %+v after %d calls", res, c.calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], (*slept)[i])
		}
	}
}

func TestSummarizeExhaustsAttempts(t *testing.T) {
	slept := recordSleeps(t)
	boom := errors.New("boom")
	c := &scriptedCompleter{results: []error{boom, boom, boom, boom, boom}}
	g := NewGenerator(c, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2})

	_, err := g.Summarize(context.Background(), testRequest(t))
	if !errors.Is(err, ErrSummaryFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrSummaryFailed wrapping last error, got %v", err)
	}
	if c.calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", c.calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("no sleep after the final attempt, got %v", *slept)
	}
}

func TestSummarizeNoChoicesConsumesAttempt(t *testing.T) {
	recordSleeps(t)
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	g := NewGenerator(NewClient(ClientOptions{Endpoint: server.URL, Model: "m"}), DefaultRetryPolicy())
	res, err := g.Summarize(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if res.Attempts != 2 || res.Text != "ok" {
		t.Fatalf("expected success on 2nd attempt, got %+v", res)
	}
}

func TestSummarizeCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	orig := sleepHook
	sleepHook = func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	t.Cleanup(func() { sleepHook = orig })

	c := &scriptedCompleter{results: []error{errors.New("boom")}}
	_, err := NewGenerator(c, DefaultRetryPolicy()).Summarize(ctx, testRequest(t))
	if !errors.Is(err, ErrSummaryFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled ErrSummaryFailed, got %v", err)
	}
	if c.calls != 1 {
		t.Fatalf("expected 1 call, got %d", c.calls)
	}
}

func TestNewGeneratorFallsBackToDefaultPolicy(t *testing.T) {
	g := NewGenerator(&scriptedCompleter{}, RetryPolicy{})
	if g.Policy() != DefaultRetryPolicy() {
		t.Fatalf("expected default policy, got %+v", g.Policy())
	}
}

func TestBuildPrompt(t *testing.T) {
	req := testRequest(t)
	req.Accounts[0].Transactions = append(req.Accounts[0].Transactions,
		bridge.Transaction{ID: "t2", Description: "Rent | October", Amount: decimal.RequireFromString("-1200"), Posted: 1759990000},
		bridge.Transaction{ID: "t3", Description: "Salary", Amount: decimal.RequireFromString("3000"), Posted: 1759980000},
	)
	prompt := BuildPrompt(req)
	for _, want := range []string{
		"Billing period: 2026-10-01 to 2026-10-17 (17 days)",
		"Total spent: 1204.50",
		"Total received: 3000.00",
		"| Checking |",
		"1. Rent / October: 1200.00",
		"2. Coffee: 4.50",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildPromptCountsCalendarDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	p, err := period.New(time.Date(2026, 3, 1, 0, 0, 0, 0, ny), time.Date(2026, 3, 31, 0, 0, 0, 0, ny))
	if err != nil {
		t.Fatal(err)
	}
	req := Request{Period: p, Accounts: []bridge.Account{{
		ID: "a1", Name: "Checking", Balance: decimal.RequireFromString("100"),
		Transactions: []bridge.Transaction{{ID: "t1", Description: "Groceries", Amount: decimal.RequireFromString("-310"), Posted: 1772900000}},
	}}}
	prompt := BuildPrompt(req)
	for _, want := range []string{
		"Billing period: 2026-03-01 to 2026-03-31 (31 days)",
		"Daily spend rate: 10.00",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
