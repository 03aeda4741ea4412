package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables that override secrets from the file.
const (
	EnvSlackToken         = "TRACKBOT_SLACK_TOKEN"
	EnvSlackSigningSecret = "TRACKBOT_SLACK_SIGNING_SECRET"
	EnvTelegramToken      = "TRACKBOT_TELEGRAM_TOKEN"
	EnvComposerAPIKey     = "TRACKBOT_COMPOSER_API_KEY"
	EnvPprofToken         = "TRACKBOT_PPROF_TOKEN"
)

type lookupEnv func(key string) (string, bool)

// applyEnv overlays non-empty secret variables onto cfg.
func applyEnv(cfg *Config, lookup lookupEnv) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Slack.Token, EnvSlackToken)
	set(&cfg.Slack.SigningSecret, EnvSlackSigningSecret)
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Composer.APIKey, EnvComposerAPIKey)
	set(&cfg.HTTP.PprofToken, EnvPprofToken)
}

// Validate checks cross-field requirements and duration syntax.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Messenger.Platform)) {
	case "slack":
		if strings.TrimSpace(cfg.Slack.Token) == "" {
			errs = append(errs, fmt.Errorf("slack.token is required (or %s)", EnvSlackToken))
		}
		if cfg.HTTP.Enabled && strings.TrimSpace(cfg.Slack.SigningSecret) == "" {
			errs = append(errs, fmt.Errorf("slack.signing_secret is required when http is enabled (or %s)", EnvSlackSigningSecret))
		}
	case "telegram":
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("telegram.token is required (or %s)", EnvTelegramToken))
		}
	case "memory", "":
	default:
		errs = append(errs, fmt.Errorf("messenger.platform: unknown platform %q", cfg.Messenger.Platform))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Composer.Enabled && strings.TrimSpace(cfg.Composer.URL) == "" {
		errs = append(errs, errors.New("composer.url is required when composer is enabled"))
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.Target) == "" {
		errs = append(errs, errors.New("logging.chat.target is required when chat logging is enabled"))
	}

	var d Durations
	for path, raw := range map[string]string{
		"upstream.timeout":          cfg.Upstream.Timeout,
		"upstream.cache_ttl":        cfg.Upstream.CacheTTL,
		"poll.interval":             cfg.Poll.Interval,
		"storage.busy_timeout":      cfg.Storage.BusyTimeout,
		"storage.persist_timeout":   cfg.Storage.PersistTimeout,
		"messenger.command_timeout": cfg.Messenger.CommandTimeout,
		"telegram.poll_timeout":     cfg.Telegram.PollTimeout,
		"notifier.retry_base":       cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":  cfg.Notifier.RetryMaxDelay,
		"notifier.send_timeout":     cfg.Notifier.SendTimeout,
		"composer.timeout":          cfg.Composer.Timeout,
		"http.shutdown_timeout":     cfg.HTTP.ShutdownTimeout,
	} {
		d.Get(path, raw, 0)
	}
	if err := d.Err(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Notifier.RetryMax != nil && *cfg.Notifier.RetryMax < 0 {
		errs = append(errs, errors.New("notifier.retry_max must be >= 0"))
	}
	return errors.Join(errs...)
}
