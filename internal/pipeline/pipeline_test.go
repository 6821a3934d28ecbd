package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/cache"
	"github.com/spendwatch/spendwatch/internal/notify"
	"github.com/spendwatch/spendwatch/internal/period"
	"github.com/spendwatch/spendwatch/internal/summary"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.Local)

type fakeBridge struct {
	result bridge.Result
	err    error
	calls  int
	last   period.BillingPeriod
}

func (f *fakeBridge) Fetch(ctx context.Context, p period.BillingPeriod) (bridge.Result, error) {
	f.calls++
	f.last = p
	return f.result, f.err
}

type memStore struct {
	c       cache.Cache
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(ctx context.Context) (cache.Cache, error) {
	if m.loadErr != nil {
		return cache.Cache{}, m.loadErr
	}
	return m.c.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, c cache.Cache) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.c = c.Clone()
	return nil
}

type fakeSummarizer struct {
	calls int
	err   error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, req summary.Request) (summary.Result, error) {
	f.calls++
	if f.err != nil {
		return summary.Result{Attempts: 3}, f.err
	}
	return summary.Result{Text: "You spent **less** this month.", Attempts: 1}, nil
}

type fakeNotifier struct {
	dispatched []notify.Message
	requested  [][]notify.Kind
	warnings   []string
	status     notify.Status
}

func (f *fakeNotifier) Dispatch(ctx context.Context, msg notify.Message, requested []notify.Kind) []notify.ChannelResult {
	f.dispatched = append(f.dispatched, msg)
	f.requested = append(f.requested, requested)
	status := f.status
	if status == "" {
		status = notify.StatusSent
	}
	var out []notify.ChannelResult
	for _, k := range requested {
		out = append(out, notify.ChannelResult{Channel: k, Status: status})
	}
	return out
}

func (f *fakeNotifier) Warn(ctx context.Context, title, text string) error {
	f.warnings = append(f.warnings, title+": "+text)
	return nil
}

func account(id, balance string, synced time.Time) bridge.Account {
	return bridge.Account{ID: id, Name: "Account " + id, Currency: "USD", Balance: decimal.RequireFromString(balance), BalanceDate: synced.Unix()}
}

type harness struct {
	bridge     *fakeBridge
	store      *memStore
	summarizer *fakeSummarizer
	notifier   *fakeNotifier
	pipeline   *Pipeline
}

func newHarness(opts Options, accounts ...bridge.Account) *harness {
	h := &harness{
		bridge:     &fakeBridge{result: bridge.Result{Accounts: accounts}},
		store:      &memStore{},
		summarizer: &fakeSummarizer{},
		notifier:   &fakeNotifier{},
	}
	h.pipeline = New(h.bridge, h.store, h.summarizer, h.notifier, opts)
	h.pipeline.Now = func() time.Time { return testNow }
	return h
}

func notifiedAt(t time.Time) *int64 {
	ts := t.Unix()
	return &ts
}

func TestRunNotifiesAndPersists(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)), account("zero", "0", testNow.Add(-time.Hour)))

	rep, err := h.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Outcome != OutcomeNotified || !rep.Persisted || rep.RunID == "" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Accounts != 1 || len(rep.Changed) != 1 || rep.Changed[0] != "a1" {
		t.Fatalf("zero balance account must be filtered: %+v", rep)
	}
	if h.store.saves != 1 {
		t.Fatalf("expected one save, got %d", h.store.saves)
	}
	if last, ok := h.store.c.LastNotification(); !ok || !last.Equal(testNow.Truncate(time.Second)) {
		t.Fatalf("unexpected last notification %v", last)
	}
	if _, ok := h.store.c.Accounts["zero"]; ok {
		t.Fatal("zero balance account must not be cached")
	}
	if len(h.notifier.requested[0]) != 3 {
		t.Fatalf("expected all channels requested by default, got %v", h.notifier.requested[0])
	}
	if h.bridge.last.String() != "2026-10-01 to 2026-10-17" {
		t.Fatalf("unexpected period %s", h.bridge.last)
	}
}

func TestRunIdempotent(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	if _, err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	rep, err := h.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if rep.Outcome != OutcomeNoChange {
		t.Fatalf("expected no change, got %s", rep.Outcome)
	}
	if len(h.notifier.dispatched) != 1 || h.store.saves != 1 || h.summarizer.calls != 1 {
		t.Fatalf("second run must not notify or save: dispatched=%d saves=%d summaries=%d",
			len(h.notifier.dispatched), h.store.saves, h.summarizer.calls)
	}
}

func TestRunCooldownBeforeSummarizer(t *testing.T) {
	h := newHarness(Options{StaleAfter: 48 * time.Hour}, account("a1", "100", testNow.Add(-time.Hour)))
	h.store.c = cache.Cache{LastSuccessfulNotification: notifiedAt(testNow.Add(-time.Hour))}

	rep, err := h.pipeline.Run(context.Background())
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StageCooldown {
		t.Fatalf("expected cooldown stage, got %s", stage)
	}
	if rep.Outcome != OutcomeCooldown {
		t.Fatalf("expected cooldown outcome, got %s", rep.Outcome)
	}
	if h.summarizer.calls != 0 || len(h.notifier.dispatched) != 0 || h.store.saves != 0 {
		t.Fatal("cooldown must stop the run before summarizing")
	}
}

func TestRunCooldownElapsed(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	h.store.c = cache.Cache{LastSuccessfulNotification: notifiedAt(testNow.Add(-49 * time.Hour))}
	if _, err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if h.summarizer.calls != 1 {
		t.Fatal("expected summary after cooldown elapsed")
	}
}

func TestRunStaleWarningDespiteCooldown(t *testing.T) {
	h := newHarness(Options{}, account("old", "50", testNow.Add(-72*time.Hour)))
	h.store.c = cache.Cache{LastSuccessfulNotification: notifiedAt(testNow.Add(-time.Hour))}

	rep, err := h.pipeline.Run(context.Background())
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if len(rep.Stale) != 1 || rep.Stale[0] != "old" {
		t.Fatalf("expected stale account reported, got %v", rep.Stale)
	}
	if len(h.notifier.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", h.notifier.warnings)
	}
}

func TestRunBridgeErrorsBecomeWarnings(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	h.bridge.result.Errors = []string{"Example Bank needs attention"}
	if _, err := h.pipeline.Run(context.Background()); err != nil {
		t.Fatalf("bridge errors must not fail the run: %v", err)
	}
	if len(h.notifier.warnings) != 1 || h.notifier.warnings[0] != "Bridge error: Example Bank needs attention" {
		t.Fatalf("unexpected warnings %v", h.notifier.warnings)
	}
}

func TestRunFetchFailures(t *testing.T) {
	boom := errors.New("unreachable")
	tests := []struct {
		name  string
		setup func(h *harness)
		want  error
	}{
		{"bridge error", func(h *harness) { h.bridge.err = boom }, boom},
		{"only zero balances", func(h *harness) {
			h.bridge.result.Accounts = []bridge.Account{account("z", "0", testNow)}
		}, ErrNoAccounts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Options{}, account("a1", "100", testNow))
			tt.setup(h)
			_, err := h.pipeline.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if stage, _ := FailedStage(err); stage != StageFetch {
				t.Fatalf("expected fetch stage, got %s", stage)
			}
			if h.summarizer.calls != 0 || h.store.saves != 0 {
				t.Fatal("fetch failure must stop the run")
			}
		})
	}
}

func TestRunSummaryFailureKeepsCache(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	h.summarizer.err = summary.ErrSummaryFailed
	rep, err := h.pipeline.Run(context.Background())
	if !errors.Is(err, summary.ErrSummaryFailed) {
		t.Fatalf("expected ErrSummaryFailed, got %v", err)
	}
	if stage, _ := FailedStage(err); stage != StageSummarize {
		t.Fatalf("expected summarize stage, got %s", stage)
	}
	if rep.Attempts != 3 || len(h.notifier.dispatched) != 0 || h.store.saves != 0 {
		t.Fatalf("summary failure must not notify or persist: %+v", rep)
	}
}

func TestRunInvalidPeriod(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.Local)
	h := newHarness(Options{Range: period.Custom, Start: &start, End: &end}, account("a1", "100", testNow))
	_, err := h.pipeline.Run(context.Background())
	if !errors.Is(err, period.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	if h.bridge.calls != 0 {
		t.Fatal("validation must happen before fetch")
	}
}

func TestRunCacheReadFailureDegrades(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	h.store.loadErr = cache.ErrCacheIO
	rep, err := h.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !rep.CacheDegraded || rep.Outcome != OutcomeNotified {
		t.Fatalf("expected degraded notified run, got %+v", rep)
	}
}

func TestRunCacheWriteFailure(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	h.store.saveErr = cache.ErrCacheIO
	_, err := h.pipeline.Run(context.Background())
	if stage, _ := FailedStage(err); stage != StagePersist || !errors.Is(err, cache.ErrCacheIO) {
		t.Fatalf("expected persist failure, got %v", err)
	}
	if len(h.notifier.dispatched) != 1 {
		t.Fatal("dispatch happens before persist")
	}
}

func TestRunUndeliveredDoesNotPersist(t *testing.T) {
	h := newHarness(Options{Channels: []notify.Kind{notify.Push}}, account("a1", "100", testNow.Add(-time.Hour)))
	h.notifier.status = notify.StatusFailed
	rep, err := h.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("channel failures are not run errors: %v", err)
	}
	if rep.Outcome != OutcomeUndelivered || rep.Persisted || h.store.saves != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(rep.Channels) != 1 || rep.Channels[0].Channel != notify.Push {
		t.Fatalf("unexpected channels %v", rep.Channels)
	}
}

func TestRunNoConfiguredChannelPersists(t *testing.T) {
	h := newHarness(Options{}, account("a1", "100", testNow.Add(-time.Hour)))
	h.notifier.status = notify.StatusSkipped
	rep, err := h.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Outcome != OutcomeUndelivered || !rep.Persisted || h.store.saves != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if last, ok := h.store.c.LastNotification(); !ok || !last.Equal(testNow) {
		t.Fatalf("last notification = %v %v", last, ok)
	}

	// the next tick sees no change and does not summarize again
	rep, err = h.pipeline.Run(context.Background())
	if err != nil || rep.Outcome != OutcomeNoChange {
		t.Fatalf("second run: %+v %v", rep, err)
	}
	if len(h.notifier.dispatched) != 1 {
		t.Fatalf("dispatched %d times", len(h.notifier.dispatched))
	}
}

func TestRunOptions(t *testing.T) {
	fresh := account("a1", "100", testNow.Add(-time.Hour))
	seeded := cache.Cache{
		Accounts:                   map[string]cache.AccountSnapshot{"a1": {AccountID: "a1", Balance: fresh.Balance, BalanceTimestamp: fresh.BalanceDate}},
		LastSuccessfulNotification: notifiedAt(testNow.Add(-time.Hour)),
	}

	t.Run("force", func(t *testing.T) {
		h := newHarness(Options{Force: true}, fresh)
		h.store.c = seeded.Clone()
		rep, err := h.pipeline.Run(context.Background())
		if err != nil || rep.Outcome != OutcomeNotified || h.store.saves != 1 {
			t.Fatalf("force must bypass change and cooldown gates: %+v %v", rep, err)
		}
	})

	t.Run("disable cache", func(t *testing.T) {
		h := newHarness(Options{DisableCache: true}, fresh)
		h.store.c = seeded.Clone()
		rep, err := h.pipeline.Run(context.Background())
		if err != nil || rep.Outcome != OutcomeNotified || rep.CacheUsed || h.store.saves != 0 {
			t.Fatalf("disabled cache must notify without persisting: %+v %v", rep, err)
		}
	})

	t.Run("non current range", func(t *testing.T) {
		h := newHarness(Options{Range: period.LastMonth}, fresh)
		h.store.c = seeded.Clone()
		rep, err := h.pipeline.Run(context.Background())
		if err != nil || rep.CacheUsed || h.store.saves != 0 {
			t.Fatalf("last_month must bypass the cache: %+v %v", rep, err)
		}
		if h.bridge.last.String() != "2026-09-01 to 2026-09-30" {
			t.Fatalf("unexpected period %s", h.bridge.last)
		}
	})

	t.Run("disable notifications", func(t *testing.T) {
		h := newHarness(Options{DisableNotifications: true}, account("old", "100", testNow.Add(-96*time.Hour)))
		rep, err := h.pipeline.Run(context.Background())
		if err != nil || rep.Outcome != OutcomeDryRun || rep.Summary == "" {
			t.Fatalf("unexpected dry run: %+v %v", rep, err)
		}
		if len(h.notifier.dispatched) != 0 || len(h.notifier.warnings) != 0 || h.store.saves != 0 {
			t.Fatal("dry run must not send or persist")
		}
	})
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StageFetch, Err: bridge.ErrFetch}
	if err.Error() != "fetch: bridge fetch failed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if _, ok := FailedStage(errors.New("plain")); ok {
		t.Fatal("plain errors carry no stage")
	}
}
