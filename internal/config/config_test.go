package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spendwatch/spendwatch/internal/config"
	"github.com/spendwatch/spendwatch/internal/period"
	"github.com/spendwatch/spendwatch/internal/summary"
)

func TestDefaultConfig(t *testing.T) {
	c := config.DefaultConfig()
	if c.StaleAfter != 48*time.Hour {
		t.Fatalf("expected 48h stale window, got %v", c.StaleAfter)
	}
	if c.RetryPolicy() != summary.DefaultRetryPolicy() {
		t.Fatalf("unexpected default retry policy %+v", c.RetryPolicy())
	}
	if c.Schedule == "" || c.CacheBackend != "file" || len(c.Channels) != 3 {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func hasWarning(ws []string, substr string) bool {
	for _, w := range ws {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidateWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"partial twilio", func(c *config.Config) { c.TwilioAccountSID = "AC1" }, "twilio partially configured"},
		{"email without recipients", func(c *config.Config) { c.EmailHost = "mail"; c.EmailFrom = "a@b" }, "no recipients"},
		{"email without sender", func(c *config.Config) { c.EmailHost = "mail"; c.EmailTo = []string{"x@y"} }, "EmailFrom"},
		{"bad backend", func(c *config.Config) { c.CacheBackend = "redis" }, "unknown cache backend"},
		{"bad channel", func(c *config.Config) { c.Channels = []string{"pager"} }, "unknown notification channel"},
		{"bad retry", func(c *config.Config) { c.RetryMaxAttempts = 0 }, "max attempts"},
		{"custom without dates", func(c *config.Config) { c.DateRange = "custom" }, "requires start_date"},
		{"bad range", func(c *config.Config) { c.DateRange = "forever" }, "forever"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.DefaultConfig()
			c.BridgeURL = "https://bridge"
			c.LLMAPIKey = "key"
			tt.mutate(c)
			if ws := c.Validate(); !hasWarning(ws, tt.want) {
				t.Fatalf("expected warning containing %q, got %v", tt.want, ws)
			}
		})
	}

	ok := config.DefaultConfig()
	ok.BridgeURL = "https://bridge"
	ok.LLMAPIKey = "key"
	if ws := ok.Validate(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %v", ws)
	}
}

func TestPeriodSelection(t *testing.T) {
	c := config.DefaultConfig()
	c.DateRange = "custom"
	c.StartDate = "2026-09-01"
	c.EndDate = "2026-09-30"
	kind, start, end, err := c.PeriodSelection()
	if err != nil {
		t.Fatal(err)
	}
	if kind != period.Custom || start == nil || end == nil || start.Day() != 1 || end.Day() != 30 {
		t.Fatalf("unexpected selection %v %v %v", kind, start, end)
	}
	c.StartDate = "09/01/2026"
	if _, _, _, err := c.PeriodSelection(); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spendwatch.yaml")
	content := `
schedule: "0 8 * * *"
stale_after: 72h
bridge_url: https://bridge.example/simplefin
retry_max_attempts: 5
retry_initial_delay: 250ms
channels: [push]
ntfy_topic: money
twilio_to:
  - "+15551234"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := config.LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if c.Schedule != "0 8 * * *" || c.StaleAfter != 72*time.Hour || c.RetryInitialDelay != 250*time.Millisecond {
		t.Fatalf("unexpected config %+v", c)
	}
	if c.RetryMultiplier != 2 || c.LLMModel == "" {
		t.Fatal("unset keys must keep defaults")
	}
	if len(c.Channels) != 1 || c.Channels[0] != "push" || len(c.TwilioTo) != 1 {
		t.Fatalf("unexpected lists %v %v", c.Channels, c.TwilioTo)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SPENDWATCH_NTFY_TOPIC=from-dotenv\nSPENDWATCH_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SPENDWATCH_LOG_LEVEL", "warn")
	// register for cleanup; godotenv sets it directly
	t.Setenv("SPENDWATCH_NTFY_TOPIC", "")
	os.Unsetenv("SPENDWATCH_NTFY_TOPIC")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("SPENDWATCH_NTFY_TOPIC"); got != "from-dotenv" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if got := os.Getenv("SPENDWATCH_LOG_LEVEL"); got != "warn" {
		t.Fatalf("existing env must win, got %q", got)
	}
}
