package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spendwatch/spendwatch/internal/notify"
	"github.com/spendwatch/spendwatch/internal/period"
	"github.com/spendwatch/spendwatch/internal/summary"
)

// Config holds runtime configuration for spendwatch
type Config struct {
	// Schedule is a cron expression (robfig/cron syntax, descriptors like "@every 6h" allowed)
	Schedule string `json:"schedule" yaml:"schedule"`
	// StaleAfter is both the notification cooldown window and the account staleness threshold
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after"`

	// Billing period selection: current_month, last_month, last_3_months, custom
	DateRange string `json:"date_range" yaml:"date_range"`
	StartDate string `json:"start_date" yaml:"start_date"` // YYYY-MM-DD, custom only
	EndDate   string `json:"end_date" yaml:"end_date"`     // YYYY-MM-DD, custom only

	// Run switches
	Force                bool `json:"force" yaml:"force"`
	DisableCache         bool `json:"disable_cache" yaml:"disable_cache"`
	DisableNotifications bool `json:"disable_notifications" yaml:"disable_notifications"`

	// Bridge
	BridgeURL     string        `json:"bridge_url" yaml:"bridge_url"`
	BridgeTimeout time.Duration `json:"bridge_timeout" yaml:"bridge_timeout"`

	// Text generation
	LLMURL         string        `json:"llm_url" yaml:"llm_url"`
	LLMAPIKey      string        `json:"llm_api_key" yaml:"llm_api_key"`
	LLMModel       string        `json:"llm_model" yaml:"llm_model"`
	LLMTemperature float64       `json:"llm_temperature" yaml:"llm_temperature"`
	LLMTimeout     time.Duration `json:"llm_timeout" yaml:"llm_timeout"`

	// Summary retry policy
	RetryMaxAttempts  int           `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay" yaml:"retry_initial_delay"`
	RetryMultiplier   float64       `json:"retry_multiplier" yaml:"retry_multiplier"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`

	// Channels requested for summaries; unconfigured ones are skipped
	Channels        []string `json:"channels" yaml:"channels"`
	ChannelAttempts int      `json:"channel_attempts" yaml:"channel_attempts"`

	TwilioAccountSID string        `json:"twilio_account_sid" yaml:"twilio_account_sid"`
	TwilioAuthToken  string        `json:"twilio_auth_token" yaml:"twilio_auth_token"`
	TwilioFrom       string        `json:"twilio_from" yaml:"twilio_from"`
	TwilioTo         []string      `json:"twilio_to" yaml:"twilio_to"`
	SMSDelay         time.Duration `json:"sms_delay" yaml:"sms_delay"`

	EmailHost    string   `json:"email_host" yaml:"email_host"`
	EmailPort    int      `json:"email_port" yaml:"email_port"`
	EmailUser    string   `json:"email_user" yaml:"email_user"`
	EmailPass    string   `json:"email_pass" yaml:"email_pass"`
	EmailFrom    string   `json:"email_from" yaml:"email_from"`
	EmailTo      []string `json:"email_to" yaml:"email_to"`
	EmailSubject string   `json:"email_subject" yaml:"email_subject"`

	NtfyServer       string `json:"ntfy_server" yaml:"ntfy_server"`
	NtfyTopic        string `json:"ntfy_topic" yaml:"ntfy_topic"`
	NtfyTopicWarning string `json:"ntfy_topic_warning" yaml:"ntfy_topic_warning"`
	NtfyToken        string `json:"ntfy_token" yaml:"ntfy_token"`

	// Cache backend: "file" (single JSON record) or "sqlite"
	CacheBackend string `json:"cache_backend" yaml:"cache_backend"`
	CachePath    string `json:"cache_path" yaml:"cache_path"`

	// Failure alerts for scheduled runs, throttled by a circuit breaker
	AlertOnFailure          bool          `json:"alert_on_failure" yaml:"alert_on_failure"`
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `json:"circuit_breaker_cooldown" yaml:"circuit_breaker_cooldown"`

	// Metrics
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push)
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFile   string `json:"log_file" yaml:"log_file"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	retry := summary.DefaultRetryPolicy()
	return &Config{
		Schedule:   "@every 6h",
		StaleAfter: 48 * time.Hour,
		DateRange:  string(period.CurrentMonth),

		BridgeTimeout: 30 * time.Second,

		LLMURL:         summary.DefaultEndpoint,
		LLMModel:       "openai/gpt-4o-mini",
		LLMTemperature: 0.4,
		LLMTimeout:     2 * time.Minute,

		RetryMaxAttempts:  retry.MaxAttempts,
		RetryInitialDelay: retry.InitialDelay,
		RetryMultiplier:   retry.Multiplier,
		RetryMaxDelay:     retry.MaxDelay,

		Channels:        []string{"sms", "email", "push"},
		ChannelAttempts: 1,
		SMSDelay:        500 * time.Millisecond,

		EmailPort:    587,
		EmailSubject: "Spending summary",

		NtfyServer: "https://ntfy.sh",

		CacheBackend: "file",

		AlertOnFailure:          true,
		CircuitBreakerThreshold: 3,
		CircuitBreakerCooldown:  24 * time.Hour,

		// Metrics defaults (opt-in)
		MetricsEnabled: false,
		MetricsPort:    9090,

		InfluxInterval: 1 * time.Minute,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// RetryPolicy returns the summary retry policy described by the config.
func (c *Config) RetryPolicy() summary.RetryPolicy {
	return summary.RetryPolicy{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		Multiplier:   c.RetryMultiplier,
		MaxDelay:     c.RetryMaxDelay,
	}
}

// PeriodSelection parses the configured date range and custom bounds.
func (c *Config) PeriodSelection() (period.Kind, *time.Time, *time.Time, error) {
	kind, err := period.ParseKind(c.DateRange)
	if err != nil {
		return "", nil, nil, err
	}
	var start, end *time.Time
	if c.StartDate != "" {
		t, err := period.ParseDate(c.StartDate)
		if err != nil {
			return "", nil, nil, err
		}
		start = &t
	}
	if c.EndDate != "" {
		t, err := period.ParseDate(c.EndDate)
		if err != nil {
			return "", nil, nil, err
		}
		end = &t
	}
	return kind, start, end, nil
}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete channel credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	twilioSet := c.TwilioAccountSID != "" || c.TwilioAuthToken != "" || c.TwilioFrom != "" || len(c.TwilioTo) > 0
	twilioComplete := c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != "" && len(c.TwilioTo) > 0
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.BridgeURL == "", "bridge URL is empty; runs will fail at fetch"},
		{c.LLMAPIKey == "", "LLM API key is empty; summaries will likely be rejected"},
		{twilioSet && !twilioComplete, "twilio partially configured (needs account sid, auth token, from and recipients)"},
		{c.EmailHost != "" && len(c.EmailTo) == 0, "email host provided but no recipients configured (EmailTo)"},
		{c.EmailHost == "" && len(c.EmailTo) > 0, "email recipients configured but email host is empty"},
		{c.EmailHost != "" && c.EmailFrom == "", "email host provided but sender (EmailFrom) is empty"},
		{c.NtfyTopicWarning != "" && c.NtfyTopic == "", "ntfy warning topic set but ntfy topic is empty"},
		{c.CacheBackend != "file" && c.CacheBackend != "sqlite", fmt.Sprintf("unknown cache backend %q (expected file or sqlite)", c.CacheBackend)},
		{c.StaleAfter <= 0, "stale_after must be positive; default will be used"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		warnings = append(warnings, err.Error()+"; default will be used")
	}
	if _, err := notify.ParseKinds(c.Channels); err != nil {
		warnings = append(warnings, err.Error())
	}
	if kind, start, end, err := c.PeriodSelection(); err != nil {
		warnings = append(warnings, err.Error())
	} else if kind == period.Custom && (start == nil || end == nil) {
		warnings = append(warnings, "custom date range requires start_date and end_date")
	}
	return warnings
}

// LoadConfigFromFile loads config from a YAML/JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
