package submissions

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSourceDecodesSubmissions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"submissions":[
			{"slackRealId":["U1","U1b"],"status":"1–Submitted","reviewer":"kim"},
			{"slackRealId":"U2","status":"2–Approved"},
			{"slackRealId":null},
			{"status":"0–Rejected"}
		]}`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	recs, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("records = %d, want 4", len(recs))
	}
	if !recs[0].Has("U1b") || recs[0].Status != "1–Submitted" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if recs[0].Meta["reviewer"] != "kim" {
		t.Fatalf("reviewer meta not kept: %+v", recs[0].Meta)
	}
	if !recs[1].Has("U2") {
		t.Fatalf("single string alias not decoded: %+v", recs[1])
	}
	if recs[2].Status != "Unknown" || len(recs[2].IDs) != 0 {
		t.Fatalf("missing fields not defaulted: %+v", recs[2])
	}
}

func TestHTTPSourceRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestHTTPSourceTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(done)

	start := time.Now()
	if _, err := NewHTTPSource(srv.URL, 100*time.Millisecond).Fetch(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("fetch not bounded by timeout: took %v", took)
	}
}

func TestHTTPSourceMissingArrayIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	recs, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("records = %d, want 0", len(recs))
	}
}
