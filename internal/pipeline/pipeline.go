// Package pipeline runs one sync: fetch accounts from the bridge, detect
// changes against the cache, enforce the notification cooldown, summarize,
// notify, and write the cache back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/cache"
	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/metrics"
	"github.com/spendwatch/spendwatch/internal/notify"
	"github.com/spendwatch/spendwatch/internal/period"
	"github.com/spendwatch/spendwatch/internal/summary"
)

// DefaultStaleAfter is both the cooldown window and the staleness threshold.
const DefaultStaleAfter = 48 * time.Hour

// Summarizer produces the summary text.
type Summarizer interface {
	Summarize(ctx context.Context, req summary.Request) (summary.Result, error)
}

// Notifier delivers summaries and out-of-band warnings.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message, requested []notify.Kind) []notify.ChannelResult
	Warn(ctx context.Context, title, text string) error
}

// Options tune a pipeline.
type Options struct {
	// Force bypasses change detection and the cooldown.
	Force bool
	// DisableCache ignores the cache: every account counts as changed, there
	// is no cooldown and nothing is written back.
	DisableCache bool
	// DisableNotifications stops after the summary; nothing is sent or persisted.
	DisableNotifications bool
	// Channels requested for the summary. Empty means all channels.
	Channels []notify.Kind
	// StaleAfter is the cooldown window and the staleness threshold.
	StaleAfter time.Duration
	// Range selects the billing period; Start and End apply to period.Custom.
	Range period.Kind
	Start *time.Time
	End   *time.Time
}

// Outcome is how a run that did not fail ended.
type Outcome string

const (
	OutcomeNoChange    Outcome = "no_change"
	OutcomeNotified    Outcome = "notified"
	OutcomeUndelivered Outcome = "undelivered"
	OutcomeDryRun      Outcome = "dry_run"
	OutcomeCooldown    Outcome = "cooldown"
	OutcomeFailed      Outcome = "failed"
)

// Report describes one run.
type Report struct {
	RunID         string
	Period        period.BillingPeriod
	Outcome       Outcome
	CacheUsed     bool
	CacheDegraded bool
	Accounts      int
	Changed       []string
	Stale         []string
	BridgeErrors  []string
	Summary       string
	Attempts      int
	Channels      []notify.ChannelResult
	Persisted     bool
	Duration      time.Duration
}

// Pipeline wires the collaborators for repeated runs. Runs must not overlap.
type Pipeline struct {
	bridge     bridge.Bridge
	store      cache.Store
	summarizer Summarizer
	notifier   Notifier
	opts       Options
	// Now is used for the period, staleness and cooldown; tests replace it.
	Now func() time.Time
}

// New builds a Pipeline. store may be nil when the cache is disabled.
func New(b bridge.Bridge, store cache.Store, s Summarizer, n Notifier, opts Options) *Pipeline {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if len(opts.Channels) == 0 {
		opts.Channels = notify.AllKinds()
	}
	if store == nil {
		opts.DisableCache = true
	}
	return &Pipeline{bridge: b, store: store, summarizer: s, notifier: n, opts: opts, Now: time.Now}
}

// Run executes one pass. The returned Report is never nil. The error is nil
// for completed runs, wraps ErrCooldownActive when suppressed, and is a
// *StageError for every other termination.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := p.Now()
	rep := &Report{RunID: uuid.NewString()}
	log := logging.WithRun(rep.RunID)

	err := p.run(ctx, &log, rep, start)
	rep.Duration = p.Now().Sub(start)
	if err != nil {
		if errors.Is(err, ErrCooldownActive) {
			rep.Outcome = OutcomeCooldown
		} else {
			rep.Outcome = OutcomeFailed
		}
	}
	record(rep, start)

	ev := log.Info()
	if err != nil && rep.Outcome == OutcomeFailed {
		ev = log.Error().Err(err)
	}
	ev.Str("outcome", string(rep.Outcome)).
		Strs("changed", rep.Changed).
		Dur("duration", rep.Duration).
		Bool("persisted", rep.Persisted).
		Msg("run finished")
	return rep, err
}

func (p *Pipeline) run(ctx context.Context, log *zerolog.Logger, rep *Report, now time.Time) error {
	bp, err := period.Resolve(p.opts.Range, now, p.opts.Start, p.opts.End)
	if err != nil {
		return &StageError{Stage: StageValidate, Err: err}
	}
	rep.Period = bp
	// Only the rolling current month is tracked in the cache.
	useCache := !p.opts.DisableCache && (p.opts.Range == "" || p.opts.Range == period.CurrentMonth)
	rep.CacheUsed = useCache
	log.Info().Str("period", bp.String()).Bool("cache", useCache).Msg("run started")

	var prev cache.Cache
	if useCache {
		prev, err = p.store.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("cache unreadable, treating every account as changed")
			prev = cache.Cache{}
			rep.CacheDegraded = true
		}
	}

	res, err := p.bridge.Fetch(ctx, bp)
	if err != nil {
		return &StageError{Stage: StageFetch, Err: err}
	}
	rep.BridgeErrors = res.Errors
	for _, msg := range res.Errors {
		p.warn(ctx, log, "Bridge error", msg)
	}

	accounts := nonZero(res.Accounts)
	rep.Accounts = len(accounts)
	log.Info().Int("fetched", len(res.Accounts)).Int("tracked", len(accounts)).Msg("accounts fetched")
	if len(accounts) == 0 {
		return &StageError{Stage: StageFetch, Err: ErrNoAccounts}
	}

	for _, a := range accounts {
		synced := time.Unix(a.BalanceDate, 0)
		if now.Sub(synced) <= p.opts.StaleAfter {
			continue
		}
		rep.Stale = append(rep.Stale, a.ID)
		metrics.IncStaleAlert()
		p.warn(ctx, log, "Account out of sync",
			fmt.Sprintf("%s has not synced since %s", a.Name, synced.Format("2006-01-02 15:04")))
	}

	det := cache.Detect(prev, snapshots(accounts))
	rep.Changed = det.ChangedIDs
	if !det.Changed && !p.opts.Force {
		rep.Outcome = OutcomeNoChange
		return nil
	}

	if useCache && !p.opts.Force {
		if last, ok := prev.LastNotification(); ok && now.Sub(last) < p.opts.StaleAfter {
			return &StageError{Stage: StageCooldown, Err: fmt.Errorf("%w: last summary sent %s ago", ErrCooldownActive, now.Sub(last).Round(time.Minute))}
		}
	}

	out, err := p.summarizer.Summarize(ctx, summary.Request{Period: bp, Accounts: accounts})
	rep.Attempts = out.Attempts
	if err != nil {
		return &StageError{Stage: StageSummarize, Err: err}
	}
	rep.Summary = out.Text

	if p.opts.DisableNotifications {
		log.Info().Str("summary", out.Text).Msg("notifications disabled, not sending")
		rep.Outcome = OutcomeDryRun
		return nil
	}

	msg := notify.Message{
		Title:    "Spending summary " + bp.String(),
		Summary:  out.Text,
		Period:   bp,
		Accounts: accounts,
	}
	rep.Channels = p.notifier.Dispatch(ctx, msg, p.opts.Channels)
	switch {
	case notify.AnySent(rep.Channels):
		rep.Outcome = OutcomeNotified
	case notify.AllSkipped(rep.Channels):
		// no channel can deliver; persist as if sent
		log.Warn().Msg("no requested notification channel is configured")
		rep.Outcome = OutcomeUndelivered
	default:
		log.Warn().Msg("summary was not delivered on any channel")
		rep.Outcome = OutcomeUndelivered
		return nil
	}

	if !useCache {
		return nil
	}
	if err := p.store.Save(ctx, prev.WithNotification(det.Updated, now)); err != nil {
		return &StageError{Stage: StagePersist, Err: err}
	}
	rep.Persisted = true
	return nil
}

// warn sends an out-of-band warning. Failures are logged only.
func (p *Pipeline) warn(ctx context.Context, log *zerolog.Logger, title, text string) {
	log.Warn().Str("title", title).Msg(text)
	if p.opts.DisableNotifications {
		return
	}
	if err := p.notifier.Warn(ctx, title, text); err != nil {
		log.Error().Err(err).Str("title", title).Msg("warning not delivered")
	}
}

func nonZero(accounts []bridge.Account) []bridge.Account {
	out := make([]bridge.Account, 0, len(accounts))
	for _, a := range accounts {
		if !a.Balance.IsZero() {
			out = append(out, a)
		}
	}
	return out
}

func snapshots(accounts []bridge.Account) []cache.AccountSnapshot {
	out := make([]cache.AccountSnapshot, len(accounts))
	for i, a := range accounts {
		out[i] = cache.AccountSnapshot{AccountID: a.ID, Balance: a.Balance, BalanceTimestamp: a.BalanceDate}
	}
	return out
}

func record(rep *Report, at time.Time) {
	switch rep.Outcome {
	case OutcomeNotified:
		metrics.IncRun(metrics.OutcomeNotified)
		metrics.SetLastNotification(at)
	case OutcomeNoChange:
		metrics.IncRun(metrics.OutcomeNoChange)
	case OutcomeCooldown:
		metrics.IncRun(metrics.OutcomeCooldown)
	case OutcomeDryRun:
		metrics.IncRun(metrics.OutcomeDryRun)
	default:
		metrics.IncRun(metrics.OutcomeFailed)
	}
	metrics.SetLastRun(at)
	metrics.ObserveRunDuration(rep.Duration.Seconds())
}
