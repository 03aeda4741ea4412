package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"trackbot/internal/storage"
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	"trackbot/internal/tracker"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

type fakeTracker struct {
	mu       sync.Mutex
	statuses map[string]string
	tracked  map[string]subscribers.Record
	err      error
	panicOn  transport.CommandKind
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{statuses: map[string]string{"U1": "1–Submitted"}, tracked: map[string]subscribers.Record{}}
}

func (f *fakeTracker) lookup(id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	s, ok := f.statuses[id]
	if !ok {
		return "", submissions.ErrNotFound
	}
	return s, nil
}

func (f *fakeTracker) Track(ctx context.Context, identity, target string) (subscribers.Record, error) {
	if f.panicOn == transport.CommandTrack {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.lookup(identity)
	if err != nil {
		return subscribers.Record{}, err
	}
	rec := subscribers.Record{Identity: identity, Target: target, LastStatus: s}
	f.tracked[identity] = rec
	return rec, nil
}

func (f *fakeTracker) Untrack(ctx context.Context, identity, target string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tracked[identity]
	delete(f.tracked, identity)
	return ok, nil
}

func (f *fakeTracker) Status(ctx context.Context, identity string) (tracker.StatusView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.lookup(identity)
	if err != nil {
		return tracker.StatusView{}, err
	}
	return tracker.NewStatusView(identity, s), nil
}

func (f *fakeTracker) List() []subscribers.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []subscribers.Record
	for _, r := range f.tracked {
		out = append(out, r)
	}
	return out
}

func cmd(kind transport.CommandKind, identity string) transport.Command {
	return transport.Command{Kind: kind, Platform: "slack", Identity: identity, Target: "D1", UserID: identity}
}

func TestRouterReplies(t *testing.T) {
	trk := newFakeTracker()
	r := New(trk, logx.Nop(), time.Second)
	ctx := context.Background()

	steps := []struct {
		name string
		cmd  transport.Command
		want string
	}{
		{"list empty", cmd(transport.CommandList, "U1"), "📋 No users are currently being tracked."},
		{"track", cmd(transport.CommandTrack, "U1"), "✅ Now tracking your submission status! Current status: *1–Submitted*\nI'll notify you every time it changes."},
		{"track unknown", cmd(transport.CommandTrack, "U9"), "❌ Could not find your submission. Make sure you have submitted to YSWS."},
		{"status", cmd(transport.CommandStatus, "U1"), "📊 Your current submission status: *1–Submitted*"},
		{"list", cmd(transport.CommandList, "U1"), "📋 Currently tracking 1 user(s):\n• <@U1>: 1–Submitted"},
		{"untrack", cmd(transport.CommandUntrack, "U1"), "🔕 Stopped tracking your submission status."},
		{"untrack again", cmd(transport.CommandUntrack, "U1"), "❌ You are not currently being tracked."},
		{"missing identity", cmd(transport.CommandStatus, ""), "Usage: /status <your submission id>"},
	}
	for _, st := range steps {
		got, err := r.Handle(ctx, st.cmd)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", st.name, err)
		}
		if got != st.want {
			t.Fatalf("%s: reply = %q, want %q", st.name, got, st.want)
		}
	}
}

func TestRouterHidesUpstreamErrors(t *testing.T) {
	trk := newFakeTracker()
	trk.err = errors.New("upstream unavailable: dial tcp 10.0.0.1:443: secret detail")
	r := New(trk, logx.Nop(), time.Second)

	got, err := r.Handle(context.Background(), cmd(transport.CommandStatus, "U1"))
	if err == nil {
		t.Fatal("expected error for unexpected failure")
	}
	if strings.Contains(got, "secret") || got != msgFailed {
		t.Fatalf("reply leaks internals: %q", got)
	}

	trk.err = submissions.ErrUpstreamUnavailable
	got, err = r.Handle(context.Background(), cmd(transport.CommandTrack, "U1"))
	if err != nil || got != msgUnavailable {
		t.Fatalf("reply = %q, %v", got, err)
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	trk := newFakeTracker()
	trk.panicOn = transport.CommandTrack
	r := New(trk, logx.Nop(), time.Second)

	got, err := r.Handle(context.Background(), cmd(transport.CommandTrack, "U1"))
	if err == nil || got != msgFailed {
		t.Fatalf("reply = %q, err = %v", got, err)
	}
}

func TestServeRepliesThroughReplier(t *testing.T) {
	r := New(newFakeTracker(), logx.Nop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan transport.Command)
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, in) }()

	replies := make(chan string, 1)
	c := cmd(transport.CommandHelp, "U1")
	c.Platform = "telegram"
	c.Reply = func(ctx context.Context, text string) error {
		replies <- text
		return nil
	}
	in <- c

	select {
	case got := <-replies:
		if !strings.Contains(got, "/track") {
			t.Fatalf("help reply = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
	close(in)
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestTelegramListUsesPlainIdentity(t *testing.T) {
	trk := newFakeTracker()
	r := New(trk, logx.Nop(), time.Second)
	c := cmd(transport.CommandTrack, "U1")
	c.Platform = "telegram"
	if _, err := r.Handle(context.Background(), c); err != nil {
		t.Fatalf("track: %v", err)
	}
	c.Kind = transport.CommandList
	got, _ := r.Handle(context.Background(), c)
	if !strings.HasSuffix(got, "• U1: 1–Submitted") {
		t.Fatalf("list = %q", got)
	}
}

func TestForeignChatCannotTakeOverSubscription(t *testing.T) {
	ctx := context.Background()
	src := submissions.NewCache(submissions.SourceFunc(func(ctx context.Context) ([]submissions.Record, error) {
		return []submissions.Record{{IDs: []string{"U1"}, Status: "1–Submitted"}}, nil
	}), time.Minute, logx.Nop())
	store, err := subscribers.Open(ctx, storage.NewMemory(), logx.Nop())
	if err != nil {
		t.Fatalf("subscribers.Open: %v", err)
	}
	r := New(tracker.NewService(src, store, logx.Nop(), nil), logx.Nop(), time.Second)

	from := func(kind transport.CommandKind, chat string) transport.Command {
		return transport.Command{Kind: kind, Platform: "telegram", Identity: "U1", Target: chat, UserID: chat}
	}
	if _, err := r.Handle(ctx, from(transport.CommandTrack, "111")); err != nil {
		t.Fatalf("owner track: %v", err)
	}

	for _, kind := range []transport.CommandKind{transport.CommandTrack, transport.CommandUntrack} {
		got, err := r.Handle(ctx, from(kind, "999"))
		if err != nil || got != msgOwnedByOther {
			t.Fatalf("foreign %s = %q, %v", kind, got, err)
		}
		if rec, ok := store.Get("U1"); !ok || rec.Target != "111" {
			t.Fatalf("after foreign %s: %+v tracked=%v", kind, rec, ok)
		}
	}

	got, _ := r.Handle(ctx, from(transport.CommandUntrack, "111"))
	if got != msgUntracked {
		t.Fatalf("owner untrack = %q", got)
	}
}
