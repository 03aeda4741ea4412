package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"trackbot/internal/eventbus"
	"trackbot/internal/notifier"
	rtsup "trackbot/internal/runtime/supervisor"
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	"trackbot/internal/tracker"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTracker struct {
	statuses map[string]string
	err      error
	subs     []subscribers.Record
}

func (f *fakeTracker) Status(ctx context.Context, identity string) (tracker.StatusView, error) {
	if f.err != nil {
		return tracker.StatusView{}, f.err
	}
	raw, ok := f.statuses[identity]
	if !ok {
		return tracker.StatusView{}, fmt.Errorf("lookup %s: %w", identity, submissions.ErrNotFound)
	}
	return tracker.NewStatusView(identity, raw), nil
}

func (f *fakeTracker) List() []subscribers.Record { return f.subs }

type fakePoller struct{ rep tracker.Report }

func (p fakePoller) LastReport() (tracker.Report, bool) { return p.rep, p.rep.RunID != "" }
func (p fakePoller) Next() time.Time                    { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

type fakeCache struct{}

func (fakeCache) Stats() submissions.Stats { return submissions.Stats{Records: 12, Hits: 3} }

const secret = "signing-secret"

func newTestServer(t *testing.T, trk *fakeTracker, cmds chan transport.Command) (*Server, *eventbus.Feed, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	feed := eventbus.NewFeed(bus, 10)
	t.Cleanup(feed.Close)
	s := New(Config{}, Deps{
		Tracker: trk,
		Poller:  fakePoller{rep: tracker.Report{RunID: "run-1", Checked: 2, Changed: 1}},
		Cache:   fakeCache{},
		History: func() []notifier.HistoryItem {
			return []notifier.HistoryItem{{Target: "U1", Class: "approved", Text: "hi"}}
		},
		Feed:          feed,
		Health:        func() []rtsup.LoopStats { return []rtsup.LoopStats{{Name: "scheduler", Running: true}} },
		Commands:      cmds,
		SigningSecret: secret,
		Messenger:     transport.NewMemory("UBOT"),
	}, logx.Nop())
	return s, feed, bus
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %q: %v", w.Body.String(), err)
		}
	}
	return w, body
}

func TestStatusEndpoint(t *testing.T) {
	trk := &fakeTracker{statuses: map[string]string{"U1": "2–Approved"}}
	s, _, _ := newTestServer(t, trk, nil)

	w, body := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/status/U1", nil))
	if w.Code != http.StatusOK || body["status"] != "2–Approved" || body["class"] != "approved" {
		t.Fatalf("200 case: %d %v", w.Code, body)
	}

	w, body = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/status/U404", nil))
	if w.Code != http.StatusNotFound || body["error"] != "User not found" {
		t.Fatalf("404 case: %d %v", w.Code, body)
	}

	trk.err = fmt.Errorf("fetch: %w", submissions.ErrUpstreamUnavailable)
	w, body = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/status/U1", nil))
	if w.Code != http.StatusBadGateway || body["error"] != "Failed to fetch submissions" {
		t.Fatalf("502 case: %d %v", w.Code, body)
	}
}

func TestDashboardEndpoints(t *testing.T) {
	trk := &fakeTracker{subs: []subscribers.Record{{Identity: "U1", Target: "U1", LastStatus: "1–Pending review"}}}
	s, _, bus := newTestServer(t, trk, nil)

	w, body := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/subscribers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["count"] != float64(1) {
		t.Fatalf("count = %v", body["count"])
	}
	rows := body["subscribers"].([]any)
	if row := rows[0].(map[string]any); row["class"] != "pending" || row["last_status"] != "1–Pending review" {
		t.Fatalf("row = %v", row)
	}
	if rep := body["last_report"].(map[string]any); rep["run_id"] != "run-1" {
		t.Fatalf("last_report = %v", rep)
	}
	if cache := body["cache"].(map[string]any); cache["records"] != float64(12) {
		t.Fatalf("cache = %v", cache)
	}
	if hist := body["history"].([]any); len(hist) != 1 {
		t.Fatalf("history = %v", hist)
	}

	bus.Publish(eventbus.Event{Type: eventbus.TypeSubscribed, Identity: "U1"})
	deadline := time.Now().Add(time.Second)
	for {
		_, body = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/events", nil))
		if evs := body["events"].([]any); len(evs) == 1 {
			if evs[0].(map[string]any)["identity"] != "U1" {
				t.Fatalf("event = %v", evs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event never reached the feed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w, body = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", w.Code, body)
	}
}

func signedRequest(t *testing.T, path, contentType, body, key string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + body))
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestSlashCommands(t *testing.T) {
	cmds := make(chan transport.Command, 1)
	s, _, _ := newTestServer(t, &fakeTracker{}, cmds)
	form := url.Values{"command": {"/track"}, "user_id": {"U5"}, "response_url": {"https://hooks.example.test/r"}}.Encode()

	w, _ := do(t, s.Handler(), signedRequest(t, "/slack/commands", "application/x-www-form-urlencoded", form, secret))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	select {
	case cmd := <-cmds:
		if cmd.Kind != transport.CommandTrack || cmd.Identity != "U5" || cmd.Reply == nil {
			t.Fatalf("cmd = %+v", cmd)
		}
	default:
		t.Fatal("command not enqueued")
	}

	w, _ = do(t, s.Handler(), signedRequest(t, "/slack/commands", "application/x-www-form-urlencoded", form, "wrong"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d", w.Code)
	}

	unknown := url.Values{"command": {"/weather"}, "user_id": {"U5"}}.Encode()
	w, body := do(t, s.Handler(), signedRequest(t, "/slack/commands", "application/x-www-form-urlencoded", unknown, secret))
	if w.Code != http.StatusOK || body["response_type"] != "ephemeral" || body["text"] != slackUnknown {
		t.Fatalf("unknown = %d %v", w.Code, body)
	}

	// Queue full.
	cmds <- transport.Command{}
	w, body = do(t, s.Handler(), signedRequest(t, "/slack/commands", "application/x-www-form-urlencoded", form, secret))
	if w.Code != http.StatusOK || body["text"] != slackBusy {
		t.Fatalf("busy = %d %v", w.Code, body)
	}
}

func TestSlackEvents(t *testing.T) {
	cmds := make(chan transport.Command, 1)
	s, _, _ := newTestServer(t, &fakeTracker{}, cmds)

	w, body := do(t, s.Handler(), signedRequest(t, "/slack/events", "application/json", `{"type":"url_verification","token":"x","challenge":"c-1"}`, secret))
	if w.Code != http.StatusOK || body["challenge"] != "c-1" {
		t.Fatalf("challenge = %d %v", w.Code, body)
	}

	msg := `{"type":"event_callback","event":{"type":"message","user":"U3","text":"track status","channel":"D3","ts":"1.1"}}`
	w, _ = do(t, s.Handler(), signedRequest(t, "/slack/events", "application/json", msg, secret))
	if w.Code != http.StatusOK {
		t.Fatalf("event status = %d", w.Code)
	}
	select {
	case cmd := <-cmds:
		if cmd.Identity != "U3" || cmd.Kind != transport.CommandTrack {
			t.Fatalf("cmd = %+v", cmd)
		}
	default:
		t.Fatal("event command not enqueued")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(Config{ShutdownTimeout: time.Second}, Deps{}, logx.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestPprofToken(t *testing.T) {
	s := New(Config{Pprof: true, PprofToken: "tok"}, Deps{}, logx.Nop())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.Header.Set("Authorization", "Bearer tok")
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer = %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?token=tok&debug=1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "goroutine") {
		t.Fatalf("query token = %d", w.Code)
	}

	off := New(Config{}, Deps{}, logx.Nop())
	w = httptest.NewRecorder()
	off.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("disabled = %d", w.Code)
	}
}
