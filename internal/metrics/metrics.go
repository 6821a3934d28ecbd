// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting spendwatch runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeNotified = "notified"
	OutcomeNoChange = "no_change"
	OutcomeCooldown = "cooldown"
	OutcomeFailed   = "failed"
	OutcomeDryRun   = "dry_run"
)

// 1. Internal State (Source of Truth)
var (
	runsNotified     int64
	runsNoChange     int64
	runsCooldown     int64
	runsFailed       int64
	runsDryRun       int64
	summaryAttempts  int64
	summaryFailures  int64
	channelsSent     int64
	channelsFailed   int64
	channelsSkipped  int64
	staleAlerts      int64
	lastRun          int64
	lastNotification int64
)

const counterInc int64 = 1

// 2. Prometheus Collectors
var (
	promRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendwatch_runs_total",
			Help: "Total pipeline runs by outcome",
		},
		[]string{"outcome"},
	)
	promSummaryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendwatch_summary_attempts_total",
			Help: "Total summary generation attempts",
		},
		[]string{"status"},
	)
	promChannelResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spendwatch_channel_results_total",
			Help: "Notification channel results",
		},
		[]string{"channel", "status"},
	)
	promStaleAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spendwatch_stale_account_alerts_total",
			Help: "Total out-of-sync account warnings raised",
		},
	)
	promRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "spendwatch_run_duration_seconds",
			Help: "Duration of pipeline runs",
			Buckets: []float64{
				0.5,
				1,
				5,
				15,
				30,
				60,
				300,
				900,
				3600,
			},
		},
	)
	promLastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spendwatch_last_run_timestamp_seconds",
			Help: "Unix timestamp of last run",
		},
	)
	promLastNotification = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spendwatch_last_notification_timestamp_seconds",
			Help: "Unix timestamp of last delivered summary",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promRuns,
		promSummaryAttempts,
		promChannelResults,
		promStaleAlerts,
		promRunDuration,
		promLastRun,
		promLastNotification,
	)
}

// 3. Public API (Updates both Atomic and Prometheus)

// IncRun records a finished pipeline run with the given outcome.
// Unknown outcomes are counted as failures.
func IncRun(outcome string) {
	switch outcome {
	case OutcomeNotified:
		atomic.AddInt64(&runsNotified, counterInc)
	case OutcomeNoChange:
		atomic.AddInt64(&runsNoChange, counterInc)
	case OutcomeCooldown:
		atomic.AddInt64(&runsCooldown, counterInc)
	case OutcomeDryRun:
		atomic.AddInt64(&runsDryRun, counterInc)
	default:
		outcome = OutcomeFailed
		atomic.AddInt64(&runsFailed, counterInc)
	}
	promRuns.WithLabelValues(outcome).Inc()
}

// IncSummaryAttempt records one call to the text-generation service.
func IncSummaryAttempt(ok bool) {
	atomic.AddInt64(&summaryAttempts, counterInc)
	status := "success"
	if !ok {
		atomic.AddInt64(&summaryFailures, counterInc)
		status = "failure"
	}
	promSummaryAttempts.WithLabelValues(status).Inc()
}

// IncChannelResult records the outcome of one channel dispatch.
// status is one of "sent", "failed", "skipped".
func IncChannelResult(channel, status string) {
	switch status {
	case "sent":
		atomic.AddInt64(&channelsSent, counterInc)
	case "failed":
		atomic.AddInt64(&channelsFailed, counterInc)
	case "skipped":
		atomic.AddInt64(&channelsSkipped, counterInc)
	}
	promChannelResults.WithLabelValues(channel, status).Inc()
}

func IncStaleAlert() {
	atomic.AddInt64(&staleAlerts, counterInc)
	promStaleAlerts.Inc()
}

// ObserveRunDuration records the duration (in seconds) of a pipeline run.
func ObserveRunDuration(seconds float64) {
	promRunDuration.Observe(seconds)
}

// SetLastRun stores the provided time as the last run timestamp and
// updates the corresponding Prometheus gauge.
func SetLastRun(t time.Time) {
	atomic.StoreInt64(&lastRun, t.Unix())
	promLastRun.Set(float64(t.Unix()))
}

// SetLastNotification stores the time of the last delivered summary.
func SetLastNotification(t time.Time) {
	atomic.StoreInt64(&lastNotification, t.Unix())
	promLastNotification.Set(float64(t.Unix()))
}

// 4. JSON Snapshot Struct

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	RunsNotified          int64  `json:"runs_notified"`
	RunsNoChange          int64  `json:"runs_no_change"`
	RunsCooldown          int64  `json:"runs_cooldown"`
	RunsFailed            int64  `json:"runs_failed"`
	RunsDryRun            int64  `json:"runs_dry_run"`
	SummaryAttempts       int64  `json:"summary_attempts"`
	SummaryFailures       int64  `json:"summary_failures"`
	ChannelsSent          int64  `json:"channels_sent"`
	ChannelsFailed        int64  `json:"channels_failed"`
	ChannelsSkipped       int64  `json:"channels_skipped"`
	StaleAlerts           int64  `json:"stale_alerts"`
	LastRun               int64  `json:"last_run_timestamp"`
	LastRunHuman          string `json:"last_run_human"`
	LastNotification      int64  `json:"last_notification_timestamp"`
	LastNotificationHuman string `json:"last_notification_human,omitempty"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastRun)
	notified := atomic.LoadInt64(&lastNotification)
	s := StatsSnapshot{
		RunsNotified:     atomic.LoadInt64(&runsNotified),
		RunsNoChange:     atomic.LoadInt64(&runsNoChange),
		RunsCooldown:     atomic.LoadInt64(&runsCooldown),
		RunsFailed:       atomic.LoadInt64(&runsFailed),
		RunsDryRun:       atomic.LoadInt64(&runsDryRun),
		SummaryAttempts:  atomic.LoadInt64(&summaryAttempts),
		SummaryFailures:  atomic.LoadInt64(&summaryFailures),
		ChannelsSent:     atomic.LoadInt64(&channelsSent),
		ChannelsFailed:   atomic.LoadInt64(&channelsFailed),
		ChannelsSkipped:  atomic.LoadInt64(&channelsSkipped),
		StaleAlerts:      atomic.LoadInt64(&staleAlerts),
		LastRun:          ts,
		LastRunHuman:     time.Unix(ts, 0).Format(time.RFC3339),
		LastNotification: notified,
	}
	if notified > 0 {
		s.LastNotificationHuman = time.Unix(notified, 0).Format(time.RFC3339)
	}
	return s
}

// 5. Handlers

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
