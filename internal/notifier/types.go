package notifier

import "time"

// Config controls clearing, pacing and retries.
type Config struct {
	HistoryLimit    int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	ComposerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ComposerTimeout <= 0 {
		c.ComposerTimeout = 10 * time.Second
	}
	return c
}

// HistoryItem records one delivery attempt.
//
// ClearSkipped is set when earlier notices could not be looked up, so the
// target may hold more than one notice from the bot.
type HistoryItem struct {
	At           time.Time `json:"at"`
	Identity     string    `json:"identity,omitempty"`
	Target       string    `json:"target"`
	Class        string    `json:"class"`
	Text         string    `json:"text"`
	Fallback     bool      `json:"fallback"`
	Cleared      int       `json:"cleared"`
	ClearSkipped bool      `json:"clear_skipped,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	Error        string    `json:"error,omitempty"`
}
