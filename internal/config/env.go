package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Every variable is prefixed with SPENDWATCH_, for example:
// - SPENDWATCH_SCHEDULE (cron expression, e.g. "@every 6h")
// - SPENDWATCH_STALE_AFTER (duration, e.g. "48h")
// - SPENDWATCH_BRIDGE_URL (string)
// - SPENDWATCH_LLM_API_KEY (string)
// - SPENDWATCH_CHANNELS (comma list, e.g. "sms,push")
// - SPENDWATCH_TWILIO_TO / SPENDWATCH_EMAIL_TO (comma lists)
// - SPENDWATCH_METRICS_ENABLED (bool)
func ApplyEnvOverrides(cfg *Config) error {
	appliers := []func(*Config) error{
		applyRunEnv,
		applySourceEnv,
		applyRetryEnv,
		applySMSEnv,
		applyEmailEnv,
		applyPushEnv,
		applyCacheEnv,
		applyMetricsEnv,
		applyInfluxEnv,
		applyLogEnv,
	}
	for _, apply := range appliers {
		if err := apply(cfg); err != nil {
			return err
		}
	}
	return nil
}

const envPrefix = "SPENDWATCH_"

func getenv(key string) string { return os.Getenv(envPrefix + key) }

// setStringEnv assigns the variable when it is non-empty
func setStringEnv(key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

// setListEnv splits a comma separated variable
func setListEnv(key string, dst *[]string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(key string, setter func(bool)) error {
	if v := getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		setter(b)
	}
	return nil
}

func setDurationEnv(key string, dst *time.Duration) error {
	if v := getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

func setIntEnv(key string, dst *int) error {
	if v := getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

func setFloatEnv(key string, dst *float64) error {
	if v := getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = f
	}
	return nil
}

// applyRunEnv handles scheduling, period selection and run switches
func applyRunEnv(cfg *Config) error {
	setStringEnv("SCHEDULE", &cfg.Schedule)
	setStringEnv("DATE_RANGE", &cfg.DateRange)
	setStringEnv("START_DATE", &cfg.StartDate)
	setStringEnv("END_DATE", &cfg.EndDate)
	setListEnv("CHANNELS", &cfg.Channels)
	if err := setDurationEnv("STALE_AFTER", &cfg.StaleAfter); err != nil {
		return err
	}
	if err := setIntEnv("CHANNEL_ATTEMPTS", &cfg.ChannelAttempts); err != nil {
		return err
	}
	if err := setBoolEnv("FORCE", func(b bool) { cfg.Force = b }); err != nil {
		return err
	}
	if err := setBoolEnv("DISABLE_CACHE", func(b bool) { cfg.DisableCache = b }); err != nil {
		return err
	}
	if err := setBoolEnv("DISABLE_NOTIFICATIONS", func(b bool) { cfg.DisableNotifications = b }); err != nil {
		return err
	}
	if err := setBoolEnv("ALERT_ON_FAILURE", func(b bool) { cfg.AlertOnFailure = b }); err != nil {
		return err
	}
	if err := setIntEnv("CIRCUIT_BREAKER_THRESHOLD", &cfg.CircuitBreakerThreshold); err != nil {
		return err
	}
	return setDurationEnv("CIRCUIT_BREAKER_COOLDOWN", &cfg.CircuitBreakerCooldown)
}

// applySourceEnv handles the bridge and text-generation endpoints
func applySourceEnv(cfg *Config) error {
	setStringEnv("BRIDGE_URL", &cfg.BridgeURL)
	setStringEnv("LLM_URL", &cfg.LLMURL)
	setStringEnv("LLM_API_KEY", &cfg.LLMAPIKey)
	setStringEnv("LLM_MODEL", &cfg.LLMModel)
	if err := setDurationEnv("BRIDGE_TIMEOUT", &cfg.BridgeTimeout); err != nil {
		return err
	}
	if err := setFloatEnv("LLM_TEMPERATURE", &cfg.LLMTemperature); err != nil {
		return err
	}
	return setDurationEnv("LLM_TIMEOUT", &cfg.LLMTimeout)
}

func applyRetryEnv(cfg *Config) error {
	if err := setIntEnv("RETRY_MAX_ATTEMPTS", &cfg.RetryMaxAttempts); err != nil {
		return err
	}
	if err := setDurationEnv("RETRY_INITIAL_DELAY", &cfg.RetryInitialDelay); err != nil {
		return err
	}
	if err := setFloatEnv("RETRY_MULTIPLIER", &cfg.RetryMultiplier); err != nil {
		return err
	}
	return setDurationEnv("RETRY_MAX_DELAY", &cfg.RetryMaxDelay)
}

func applySMSEnv(cfg *Config) error {
	setStringEnv("TWILIO_ACCOUNT_SID", &cfg.TwilioAccountSID)
	setStringEnv("TWILIO_AUTH_TOKEN", &cfg.TwilioAuthToken)
	setStringEnv("TWILIO_FROM", &cfg.TwilioFrom)
	setListEnv("TWILIO_TO", &cfg.TwilioTo)
	return setDurationEnv("SMS_DELAY", &cfg.SMSDelay)
}

// applyEmailEnv consolidates email-related env parsing
func applyEmailEnv(cfg *Config) error {
	setStringEnv("EMAIL_HOST", &cfg.EmailHost)
	setStringEnv("EMAIL_USER", &cfg.EmailUser)
	setStringEnv("EMAIL_PASS", &cfg.EmailPass)
	setStringEnv("EMAIL_FROM", &cfg.EmailFrom)
	setStringEnv("EMAIL_SUBJECT", &cfg.EmailSubject)
	setListEnv("EMAIL_TO", &cfg.EmailTo)
	return setIntEnv("EMAIL_PORT", &cfg.EmailPort)
}

func applyPushEnv(cfg *Config) error {
	setStringEnv("NTFY_SERVER", &cfg.NtfyServer)
	setStringEnv("NTFY_TOPIC", &cfg.NtfyTopic)
	setStringEnv("NTFY_TOPIC_WARNING", &cfg.NtfyTopicWarning)
	setStringEnv("NTFY_TOKEN", &cfg.NtfyToken)
	return nil
}

func applyCacheEnv(cfg *Config) error {
	setStringEnv("CACHE_BACKEND", &cfg.CacheBackend)
	setStringEnv("CACHE_PATH", &cfg.CachePath)
	return nil
}

// applyMetricsEnv consolidates metrics-related env parsing
func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	return setIntEnv("METRICS_PORT", &cfg.MetricsPort)
}

// applyInfluxEnv consolidates Influx-related env parsing
func applyInfluxEnv(cfg *Config) error {
	setStringEnv("INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("INFLUX_BUCKET", &cfg.InfluxBucket)
	return setDurationEnv("INFLUX_INTERVAL", &cfg.InfluxInterval)
}

func applyLogEnv(cfg *Config) error {
	setStringEnv("LOG_LEVEL", &cfg.LogLevel)
	setStringEnv("LOG_FILE", &cfg.LogFile)
	setStringEnv("LOG_FORMAT", &cfg.LogFormat)
	return nil
}
