package app

import (
	"path/filepath"
	"strings"
	"time"

	"trackbot/internal/composer"
	"trackbot/internal/config"
	"trackbot/internal/notifier"
	"trackbot/internal/storage"
	"trackbot/internal/tracker"
	logx "trackbot/pkg/logx"
)

const (
	defaultStatePath = "./tracked_users.json"
	defaultHTTPAddr  = ":8721"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" && driver != "memory" && driver != "none" {
		path = defaultStatePath
		if driver == "sqlite" || driver == "sqlite3" {
			path = "./trackbot.db"
		}
	}
	var d config.Durations
	busy := d.Get("storage.busy_timeout", sc.BusyTimeout, time.Second)
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, d.Err()
}

func persistTimeout(cfg *config.Config) (time.Duration, error) {
	var d config.Durations
	v := d.Get("storage.persist_timeout", cfg.Storage.PersistTimeout, 5*time.Second)
	return v, d.Err()
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	retryMax := 2
	if nc.RetryMax != nil {
		retryMax = *nc.RetryMax
	}
	var d config.Durations
	out := notifier.Config{
		HistoryLimit:    nc.HistoryLimit,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        retryMax,
		RetryBase:       d.Get("notifier.retry_base", nc.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   d.Get("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second),
		SendTimeout:     d.Get("notifier.send_timeout", nc.SendTimeout, 10*time.Second),
		ComposerTimeout: d.Get("composer.timeout", cfg.Composer.Timeout, 10*time.Second),
	}
	return out, d.Err()
}

func mapSchedulerConfig(cfg *config.Config) (tracker.SchedulerConfig, error) {
	var d config.Durations
	out := tracker.SchedulerConfig{
		Interval: d.Get("poll.interval", cfg.Poll.Interval, tracker.DefaultInterval),
		Schedule: strings.TrimSpace(cfg.Poll.Schedule),
		Timezone: strings.TrimSpace(cfg.Poll.Timezone),
	}
	return out, d.Err()
}

func buildComposer(cfg *config.Config) (composer.Composer, error) {
	cc := cfg.Composer
	if !cc.Enabled {
		return composer.Disabled{}, nil
	}
	var d config.Durations
	timeout := d.Get("composer.timeout", cc.Timeout, 10*time.Second)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return composer.NewHTTP(composer.Config{URL: cc.URL, APIKey: cc.APIKey, Model: cc.Model, Timeout: timeout}), nil
}

// ledgerPath defaults the Telegram ledger next to the subscriber state.
func ledgerPath(cfg *config.Config, sc storage.Config) string {
	if p := strings.TrimSpace(cfg.Telegram.LedgerPath); p != "" {
		return p
	}
	if sc.Path == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(sc.Path), "telegram_ledger.json")
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			Target:     lc.Chat.Target,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}
