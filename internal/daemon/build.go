package daemon

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spendwatch/spendwatch/internal/bridge"
	"github.com/spendwatch/spendwatch/internal/cache"
	"github.com/spendwatch/spendwatch/internal/config"
	"github.com/spendwatch/spendwatch/internal/logging"
	"github.com/spendwatch/spendwatch/internal/notify"
	"github.com/spendwatch/spendwatch/internal/pipeline"
	"github.com/spendwatch/spendwatch/internal/summary"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore opens the configured cache backend. The closer must be closed on shutdown.
func OpenStore(cfg *config.Config) (cache.Store, io.Closer, error) {
	switch cfg.CacheBackend {
	case "sqlite":
		path := cfg.CachePath
		if path == "" {
			path = filepath.Join(filepath.Dir(cache.DefaultPath()), "cache.db")
		}
		s, err := cache.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		logging.Get().Debug().Str("path", path).Msg("using sqlite cache")
		return s, s, nil
	case "file", "":
		s := cache.NewFileStore(cfg.CachePath)
		logging.Get().Debug().Str("path", s.Path()).Msg("using file cache")
		return s, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// NewDispatcher registers every channel the config describes; unconfigured
// channels stay registered and are reported as skipped.
func NewDispatcher(cfg *config.Config) *notify.Dispatcher {
	d := notify.NewDispatcher(
		notify.NewTwilioSMS(notify.SMSConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
			To:         cfg.TwilioTo,
			Delay:      cfg.SMSDelay,
		}),
		notify.NewSMTPEmail(notify.EmailConfig{
			Host:    cfg.EmailHost,
			Port:    cfg.EmailPort,
			User:    cfg.EmailUser,
			Pass:    cfg.EmailPass,
			From:    cfg.EmailFrom,
			To:      cfg.EmailTo,
			Subject: cfg.EmailSubject,
		}),
		notify.NewNtfy(notify.PushConfig{
			Server:       cfg.NtfyServer,
			Topic:        cfg.NtfyTopic,
			WarningTopic: cfg.NtfyTopicWarning,
			Token:        cfg.NtfyToken,
		}),
	)
	d.SetAttempts(cfg.ChannelAttempts)
	return d
}

// NewPipeline wires the bridge client, summary generator and dispatcher.
func NewPipeline(cfg *config.Config, store cache.Store, dispatcher *notify.Dispatcher) (*pipeline.Pipeline, error) {
	kind, start, end, err := cfg.PeriodSelection()
	if err != nil {
		return nil, err
	}
	channels, err := notify.ParseKinds(cfg.Channels)
	if err != nil {
		return nil, err
	}
	client := summary.NewClient(summary.ClientOptions{
		Endpoint:    cfg.LLMURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})
	gen := summary.NewGenerator(client, cfg.RetryPolicy())
	policy := gen.Policy()
	logging.Get().Debug().
		Int("max_attempts", policy.MaxAttempts).
		Dur("initial_delay", policy.InitialDelay).
		Dur("max_delay", policy.MaxDelay).
		Msg("summary retry policy")

	opts := pipeline.Options{
		Force:                cfg.Force,
		DisableCache:         cfg.DisableCache,
		DisableNotifications: cfg.DisableNotifications,
		Channels:             channels,
		StaleAfter:           cfg.StaleAfter,
		Range:                kind,
		Start:                start,
		End:                  end,
	}
	return pipeline.New(
		bridge.NewClient(cfg.BridgeURL, cfg.BridgeTimeout),
		store,
		gen,
		dispatcher,
		opts,
	), nil
}
