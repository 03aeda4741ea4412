package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("decode %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "poll"))

	log.Debug("hidden")
	log.Info("run finished", Int("checked", 3), String("comp", "scheduler"))
	log.Warn("lookup failed", Err(errors.New("upstream down")))

	got := lines(t, &buf)
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2 (debug filtered): %s", len(got), buf.String())
	}
	if got[0]["message"] != "run finished" || got[0]["checked"] != float64(3) {
		t.Fatalf("info line = %v", got[0])
	}
	// Later fields override earlier ones with the same key.
	if got[0]["comp"] != "scheduler" {
		t.Fatalf("comp = %v", got[0]["comp"])
	}
	if got[1]["level"] != "warn" || !strings.Contains(buf.String(), "upstream down") {
		t.Fatalf("warn line = %v", got[1])
	}
	if c, _ := got[1]["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
	if !log.Enabled(LevelInfo) || log.Enabled(LevelDebug) {
		t.Fatal("Enabled disagrees with level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger not IsZero")
	}
	log.Error("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop reported IsZero")
	}
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []string
}

func (p *recordingPoster) Post(ctx context.Context, target, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, target+"|"+text)
	return nil
}

func (p *recordingPoster) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts...)
}

func TestChatSinkMirrorsWarnings(t *testing.T) {
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, Target: "ops", MinLevel: "warn", RatePerSec: 10}}, nil)
	defer svc.Close()
	p := &recordingPoster{}
	svc.SetPoster(p)

	log.Info("routine")
	log.Error("store write failed", String("identity", "U1"))

	deadline := time.Now().Add(2 * time.Second)
	for len(p.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no chat post")
		}
		time.Sleep(10 * time.Millisecond)
	}
	posts := p.snapshot()
	if len(posts) != 1 || !strings.HasPrefix(posts[0], "ops|") || !strings.Contains(posts[0], "store write failed") {
		t.Fatalf("posts = %q", posts)
	}
}
