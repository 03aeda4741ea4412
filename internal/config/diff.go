package config

import (
	"strings"

	logx "trackbot/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections in declaration order.
	Sections []string
	// Attrs are safe log fields; secrets are reported only as "set" flags.
	Attrs []logx.Field
	// RestartRequired is true when a section that cannot be applied live
	// (anything but logging and notifier) changed.
	RestartRequired bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, changed bool, attrs ...logx.Field) {
		if !changed {
			return
		}
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if section != "logging" && section != "notifier" {
			ch.RestartRequired = true
		}
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	mark("upstream", oldCfg.Upstream != newCfg.Upstream,
		logx.String("upstream.url", newCfg.Upstream.URL),
		logx.String("upstream.cache_ttl", newCfg.Upstream.CacheTTL),
	)
	mark("poll", oldCfg.Poll != newCfg.Poll,
		logx.String("poll.interval", newCfg.Poll.Interval),
		logx.String("poll.schedule", newCfg.Poll.Schedule),
		logx.String("poll.timezone", newCfg.Poll.Timezone),
	)
	mark("storage", oldCfg.Storage != newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver),
		logx.String("storage.path", newCfg.Storage.Path),
	)
	mark("messenger", oldCfg.Messenger != newCfg.Messenger,
		logx.String("messenger.platform", newCfg.Messenger.Platform),
	)
	mark("slack", oldCfg.Slack != newCfg.Slack,
		logx.Bool("slack.token_set", set(newCfg.Slack.Token)),
		logx.Bool("slack.signing_secret_set", set(newCfg.Slack.SigningSecret)),
	)
	mark("telegram", oldCfg.Telegram != newCfg.Telegram,
		logx.Bool("telegram.token_set", set(newCfg.Telegram.Token)),
		logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
	)
	mark("notifier", !notifierEqual(oldCfg.Notifier, newCfg.Notifier),
		logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		logx.Int("notifier.history_limit", newCfg.Notifier.HistoryLimit),
	)
	mark("composer", oldCfg.Composer != newCfg.Composer,
		logx.Bool("composer.enabled", newCfg.Composer.Enabled),
		logx.String("composer.model", newCfg.Composer.Model),
		logx.Bool("composer.api_key_set", set(newCfg.Composer.APIKey)),
	)
	mark("http", oldCfg.HTTP != newCfg.HTTP,
		logx.Bool("http.enabled", newCfg.HTTP.Enabled),
		logx.String("http.addr", newCfg.HTTP.Addr),
	)
	mark("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
	)
	return ch
}

func notifierEqual(a, b NotifierConfig) bool {
	ra, rb := -1, -1
	if a.RetryMax != nil {
		ra = *a.RetryMax
	}
	if b.RetryMax != nil {
		rb = *b.RetryMax
	}
	a.RetryMax, b.RetryMax = nil, nil
	return a == b && ra == rb
}
