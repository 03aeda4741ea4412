package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// Secrets may be left empty and supplied through the environment; see Env*.
type Config struct {
	Upstream  UpstreamConfig  `json:"upstream"`
	Poll      PollConfig      `json:"poll"`
	Storage   StorageConfig   `json:"storage"`
	Messenger MessengerConfig `json:"messenger"`
	Slack     SlackConfig     `json:"slack"`
	Telegram  TelegramConfig  `json:"telegram"`
	Notifier  NotifierConfig  `json:"notifier"`
	Composer  ComposerConfig  `json:"composer"`
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
}

// UpstreamConfig points at the submission list.
//
// Defaults: url = the public submissions API, timeout "15s", cache_ttl "2m".
type UpstreamConfig struct {
	URL      string `json:"url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// PollConfig controls the periodic check.
//
// schedule, when set, is a cron expression (5 or 6 fields, or a descriptor
// such as "@hourly") and overrides interval. Default interval is "5m".
type PollConfig struct {
	Interval   string `json:"interval,omitempty"`
	Schedule   string `json:"schedule,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

// StorageConfig selects the subscriber state backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tracked_users.json" }
type StorageConfig struct {
	Driver         string `json:"driver"`
	Path           string `json:"path"`
	BusyTimeout    string `json:"busy_timeout,omitempty"`    // sqlite only
	PersistTimeout string `json:"persist_timeout,omitempty"` // default "5s"
}

// MessengerConfig selects the chat platform: "slack", "telegram" or "memory"
// (dry run, nothing leaves the process).
type MessengerConfig struct {
	Platform       string `json:"platform"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type SlackConfig struct {
	Token         string `json:"token,omitempty"`          // do not log
	SigningSecret string `json:"signing_secret,omitempty"` // do not log
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"` // do not log
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LedgerPath stores ids of messages the bot posted, per chat.
	// Defaults to "<storage.path dir>/telegram_ledger.json".
	LedgerPath  string `json:"ledger_path,omitempty"`
	LedgerLimit int    `json:"ledger_limit,omitempty"`
}

// NotifierConfig controls clear-then-post delivery.
//
// Defaults: history_limit 100, rate_per_sec 3, retry_max 2, retry_base
// "500ms", retry_max_delay "10s", send_timeout "10s".
type NotifierConfig struct {
	HistoryLimit  int    `json:"history_limit,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// ComposerConfig points at an OpenAI-compatible chat completion endpoint.
// When disabled, notices use fixed templates.
type ComposerConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	APIKey  string `json:"api_key,omitempty"` // do not log
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "10s"
}

// HTTPConfig controls the status/dashboard/slash-command server.
type HTTPConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr,omitempty"` // default ":8721"
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	Pprof           bool   `json:"pprof,omitempty"`
	PprofToken      string `json:"pprof_token,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings and errors into an operator channel on the
// configured messenger.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
