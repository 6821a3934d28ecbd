package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spendwatch/spendwatch/internal/logging"
)

// StartInfluxPusher starts a background loop to push metrics to InfluxDB.
// It returns when ctx is cancelled.
func StartInfluxPusher(ctx context.Context, baseURL, token, org, bucket string, interval time.Duration) {
	if baseURL == "" || bucket == "" {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	logging.Get().Info().Str("url", baseURL).Dur("interval", interval).Msg("starting influxdb pusher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	q := url.Values{}
	q.Set("org", org)
	q.Set("bucket", bucket)
	q.Set("precision", "s")
	writeURL := strings.TrimRight(baseURL, "/") + "/api/v2/write?" + q.Encode()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pushToInflux(ctx, client, writeURL, token)
		}
	}
}

// lineProtocol renders a snapshot as a single InfluxDB line.
func lineProtocol(s StatsSnapshot, at time.Time) string {
	return fmt.Sprintf(
		"spendwatch runs_notified=%di,runs_no_change=%di,runs_cooldown=%di,runs_failed=%di,summary_attempts=%di,summary_failures=%di,channels_sent=%di,channels_failed=%di,stale_alerts=%di,last_run=%di,last_notification=%di %d",
		s.RunsNotified, s.RunsNoChange, s.RunsCooldown, s.RunsFailed,
		s.SummaryAttempts, s.SummaryFailures, s.ChannelsSent, s.ChannelsFailed,
		s.StaleAlerts, s.LastRun, s.LastNotification, at.Unix(),
	)
}

func pushToInflux(ctx context.Context, client *http.Client, writeURL, token string) {
	line := lineProtocol(GetSnapshot(), time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, bytes.NewReader([]byte(line)))
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb request creation failed")
		return
	}

	req.Header.Set("Authorization", "Token "+token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb push failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.Get().Warn().Int("status", resp.StatusCode).Msg("influxdb rejected metrics")
	}
}
