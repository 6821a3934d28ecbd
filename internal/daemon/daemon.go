// Package daemon runs the sync pipeline on a cron schedule and alerts on
// failed runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/spendwatch/spendwatch/internal/config"
	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/notify"
	"github.com/spendwatch/spendwatch/internal/pipeline"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// Warner delivers failure alerts.
type Warner interface {
	Warn(ctx context.Context, title, text string) error
}

type failureInfo struct {
	count           int
	lastFailureAt   time.Time
	suppressedUntil time.Time
}

// Daemon schedules pipeline runs. Runs never overlap.
type Daemon struct {
	cfg    *config.Config
	runner Runner
	warner Warner
	closer io.Closer

	// channels reports configured notification channels; nil in tests
	channels func() []notify.Kind

	cron  *cron.Cron
	runMu sync.Mutex // held for the duration of a run
	quit  chan struct{}
	wg    sync.WaitGroup   // tracks active runs
	Now   func() time.Time // injectable clock for testing

	ctx    context.Context // cancelled by Stop
	cancel func()

	// lifeMu orders Start against Stop; stopped is set once Stop has begun
	lifeMu  sync.Mutex
	stopped bool

	// circuit breaker state for failure alerts, keyed by stage
	cbMu     sync.Mutex
	failures map[string]*failureInfo
}

// New opens the cache and wires the pipeline described by cfg.
func New(cfg *config.Config) (*Daemon, error) {
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}
	store, closer, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := NewDispatcher(cfg)
	p, err := NewPipeline(cfg, store, dispatcher)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	d := newDaemon(cfg, p, dispatcher)
	d.channels = dispatcher.Configured
	d.closer = closer
	return d, nil
}

func newDaemon(cfg *config.Config, r Runner, w Warner) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{}
	sched := cron.New(
		cron.WithLocation(time.Local),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Daemon{
		cfg:    cfg,
		runner: r,
		warner: w,
		cron:   sched,
		quit:   make(chan struct{}),
		Now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs one pass immediately, then on every tick of the schedule, until
// Stop is called. It blocks. Start after Stop returns at once.
func (d *Daemon) Start() error {
	if _, err := d.cron.AddFunc(d.cfg.Schedule, func() { d.once(d.ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", d.cfg.Schedule, err)
	}

	d.lifeMu.Lock()
	if d.stopped {
		d.lifeMu.Unlock()
		return nil
	}
	logging.Get().Info().
		Str("schedule", d.cfg.Schedule).
		Strs("channels", d.configuredChannels()).
		Msg("starting spendwatch daemon")

	// Run an immediate pass so users don't wait for the first tick
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.once(d.ctx)
	}()
	d.cron.Start()
	d.lifeMu.Unlock()

	<-d.quit
	logging.Get().Info().Msg("stopping daemon")
	return nil
}

func (d *Daemon) configuredChannels() []string {
	if d.channels == nil {
		return nil
	}
	kinds := d.channels()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// once runs one scheduled pass, skipping it when another run is in flight.
func (d *Daemon) once(ctx context.Context) {
	if !d.runMu.TryLock() {
		logging.Get().Warn().Msg("previous run still in progress, skipping")
		return
	}
	defer d.runMu.Unlock()
	d.wg.Add(1)
	defer d.wg.Done()

	rep, err := d.runner.Run(ctx)
	d.handleResult(ctx, rep, err)
}

func (d *Daemon) handleResult(ctx context.Context, rep *pipeline.Report, err error) {
	switch {
	case err == nil:
		d.clearFailures()
		for _, ch := range rep.Channels {
			if ch.Err != nil {
				logging.Get().Warn().Str("run_id", rep.RunID).Str("channel", string(ch.Channel)).Err(ch.Err).Msg(string(ch.Status))
			}
		}
	case errors.Is(err, pipeline.ErrCooldownActive):
		logging.Get().Info().Err(err).Msg("run suppressed by cooldown")
	case errors.Is(err, context.Canceled):
		logging.Get().Info().Msg("run cancelled")
	default:
		stage, _ := pipeline.FailedStage(err)
		if !d.cfg.AlertOnFailure || d.warner == nil || !d.shouldAlert(string(stage)) {
			return
		}
		if werr := d.warner.Warn(ctx, "Spendwatch run failed", err.Error()); werr != nil {
			logging.Get().Error().Err(werr).Msg("failure alert not delivered")
		}
	}
}

// shouldAlert updates circuit breaker state for the given stage and returns
// true when an alert should be sent (up to the threshold, then again after cooldown).
func (d *Daemon) shouldAlert(stage string) bool {
	now := d.Now()
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if d.failures == nil {
		d.failures = make(map[string]*failureInfo)
	}
	fi, ok := d.failures[stage]
	if !ok {
		d.failures[stage] = &failureInfo{count: 1, lastFailureAt: now}
		return true
	}
	if fi.suppressedUntil.After(now) {
		fi.count++
		fi.lastFailureAt = now
		return false
	}
	if now.Sub(fi.lastFailureAt) > d.cfg.CircuitBreakerCooldown {
		fi.count = 1
		fi.lastFailureAt = now
		fi.suppressedUntil = time.Time{}
		return true
	}
	fi.count++
	fi.lastFailureAt = now
	if d.cfg.CircuitBreakerThreshold > 0 && fi.count > d.cfg.CircuitBreakerThreshold {
		fi.suppressedUntil = now.Add(d.cfg.CircuitBreakerCooldown)
		return false
	}
	return true
}

func (d *Daemon) clearFailures() {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.failures = nil
}

// Stop signals the daemon to stop and waits for an active run to complete
func (d *Daemon) Stop(ctx context.Context) {
	d.lifeMu.Lock()
	if d.stopped {
		d.lifeMu.Unlock()
		return
	}
	d.stopped = true
	d.cancel()
	close(d.quit)
	d.lifeMu.Unlock()

	<-d.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Get().Info().Msg("all active runs completed")
	case <-ctx.Done():
		logging.Get().Warn().Msg("shutdown timeout exceeded, a run may be incomplete")
	}

	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			logging.Get().Warn().Err(err).Msg("closing cache store")
		}
	}
}

// RunOnce runs a single pass, waiting for any in-flight run first, and
// returns its report. Failure alerts are sent as for scheduled runs.
func (d *Daemon) RunOnce(ctx context.Context) (*pipeline.Report, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	rep, err := d.runner.Run(ctx)
	d.handleResult(ctx, rep, err)
	return rep, err
}

// Close releases the cache store. Use it when the daemon was never started.
func (d *Daemon) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// cronLogger routes robfig/cron logs through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Get().Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Get().Error().Err(err).Fields(keysAndValues).Msg(msg)
}
