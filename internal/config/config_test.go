package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
upstream:
  url: https://example.test/api/submissions
  cache_ttl: 2m
poll:
  interval: 5m
  run_on_start: true
storage:
  driver: file
  path: ./data/tracked_users.json
messenger:
  platform: slack
slack:
  token: xoxb-from-file
http:
  enabled: true
  addr: ":8721"
logging:
  level: debug
  console: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func envMap(m map[string]string) lookupEnv {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDecodeYAMLWithEnvSecrets(t *testing.T) {
	cfg, err := decode("config.yaml", []byte(sampleYAML), envMap(map[string]string{
		EnvSlackToken:         "xoxb-from-env",
		EnvSlackSigningSecret: "shh",
		EnvComposerAPIKey:     "  ",
	}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Slack.Token != "xoxb-from-env" || cfg.Slack.SigningSecret != "shh" {
		t.Fatalf("env overlay not applied: %+v", cfg.Slack)
	}
	if cfg.Composer.APIKey != "" {
		t.Fatalf("blank env var should not override: %q", cfg.Composer.APIKey)
	}
	if cfg.Poll.Interval != "5m" || !cfg.Poll.RunOnStart || cfg.Storage.Driver != "file" || !cfg.HTTP.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := decode("config.json", []byte(`{"poll": {"interval": "5m", "every": "1m"}}`), envMap(nil))
	if err == nil || !strings.Contains(err.Error(), "every") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
	_, err = decode("config.json", []byte(`{} {}`), envMap(nil))
	if err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "memory default", cfg: Config{}},
		{name: "slack without token", cfg: Config{Messenger: MessengerConfig{Platform: "slack"}}, wantErr: "slack.token"},
		{name: "slack http without secret", cfg: Config{Messenger: MessengerConfig{Platform: "slack"}, Slack: SlackConfig{Token: "x"}, HTTP: HTTPConfig{Enabled: true}}, wantErr: "signing_secret"},
		{name: "telegram without token", cfg: Config{Messenger: MessengerConfig{Platform: "telegram"}}, wantErr: "telegram.token"},
		{name: "unknown platform", cfg: Config{Messenger: MessengerConfig{Platform: "irc"}}, wantErr: "unknown platform"},
		{name: "unknown driver", cfg: Config{Storage: StorageConfig{Driver: "postgres"}}, wantErr: "storage.driver"},
		{name: "bad duration", cfg: Config{Poll: PollConfig{Interval: "five minutes"}}, wantErr: "poll.interval"},
		{name: "composer without url", cfg: Config{Composer: ComposerConfig{Enabled: true}}, wantErr: "composer.url"},
		{name: "chat logging without target", cfg: Config{Logging: LoggingConfig{Chat: LoggingChat{Enabled: true}}}, wantErr: "logging.chat.target"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{Logging: LoggingConfig{Level: "info"}, Slack: SlackConfig{Token: "a"}}
	logOnly := *old
	logOnly.Logging.Level = "debug"

	ch := SummarizeConfigChange(old, &logOnly)
	if len(ch.Sections) != 1 || ch.Sections[0] != "logging" || ch.RestartRequired {
		t.Fatalf("logging-only change = %+v", ch)
	}

	secret := *old
	secret.Slack.Token = "b"
	ch = SummarizeConfigChange(old, &secret)
	if len(ch.Sections) != 1 || ch.Sections[0] != "slack" || !ch.RestartRequired {
		t.Fatalf("slack change = %+v", ch)
	}

	if !SummarizeConfigChange(old, old).Empty() {
		t.Fatal("identical configs reported as changed")
	}

	two, three := 2, 2
	a := &Config{Notifier: NotifierConfig{RetryMax: &two}}
	b := &Config{Notifier: NotifierConfig{RetryMax: &three}}
	if !SummarizeConfigChange(a, b).Empty() {
		t.Fatal("equal retry_max behind different pointers reported as changed")
	}
}

func TestManagerWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"logging": {"level": "info"}}`)

	m := NewConfigManager(path)
	m.env = envMap(nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, dir, "config.json", `{"logging": {"level": "debug"}}`)
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}

	// Invalid content is rejected and the committed config kept.
	writeFile(t, dir, "config.json", `{"logging": {"level": "debug", "colour": true}}`)
	time.Sleep(600 * time.Millisecond)
	if m.Get().Logging.Level != "debug" {
		t.Fatal("invalid reload replaced committed config")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestDurationsCollectsEveryError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
		bad  bool
	}{
		{"empty uses default", "", 5 * time.Minute, false},
		{"zero uses default", "0s", 5 * time.Minute, false},
		{"parsed", " 90s ", 90 * time.Second, false},
		{"negative", "-1s", 5 * time.Minute, true},
		{"garbage", "soon", 5 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Durations
			if got := d.Get("x", tt.raw, 5*time.Minute); got != tt.want {
				t.Fatalf("Get(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			if (d.Err() != nil) != tt.bad {
				t.Fatalf("Err() = %v, bad=%v", d.Err(), tt.bad)
			}
		})
	}

	var d Durations
	d.Get("a.timeout", "nope", 0)
	d.Get("b.timeout", "-2s", 0)
	err := d.Err()
	if err == nil || !strings.Contains(err.Error(), "a.timeout") || !strings.Contains(err.Error(), "b.timeout") {
		t.Fatalf("Err() = %v, want both fields named", err)
	}
}

func TestDecodeYAMLShapes(t *testing.T) {
	cfg, err := decode("empty.yml", nil, envMap(nil))
	if err != nil || cfg == nil {
		t.Fatalf("empty yaml: %v, %v", cfg, err)
	}
	if _, err := decode("list.yaml", []byte("- a\n- b\n"), envMap(nil)); err == nil {
		t.Fatal("top-level list accepted")
	}
	if _, err := decode("typo.yaml", []byte("polll:\n  interval: 1m\n"), envMap(nil)); err == nil {
		t.Fatal("unknown yaml key accepted")
	}
	if _, err := decode("trailing.json", []byte(`{} {}`), envMap(nil)); err == nil {
		t.Fatal("trailing json accepted")
	}
}
