package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "trackbot/pkg/logx"
)

func sampleRecords() map[string]Record {
	at := time.Date(2024, 6, 1, 12, 30, 0, 123456789, time.UTC)
	return map[string]Record{
		"U1": {Target: "D1", LastStatus: "1–Submitted", LastUpdated: at},
		"U2": {Target: "D2", LastStatus: "2–Approved", LastUpdated: at.Add(time.Hour)},
	}
}

func assertSame(t *testing.T, got, want map[string]Record) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("records = %d, want %d (%+v)", len(got), len(want), got)
	}
	for k, w := range want {
		g, ok := got[k]
		if !ok {
			t.Fatalf("missing key %q", k)
		}
		if g.Target != w.Target || g.LastStatus != w.LastStatus || !g.LastUpdated.Equal(w.LastUpdated) {
			t.Fatalf("record %q = %+v, want %+v", k, g, w)
		}
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "file", cfg: Config{Driver: "file", Path: filepath.Join(dir, "state", "tracked_users.json")}},
		{name: "sqlite", cfg: Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db"), BusyTimeout: time.Second}},
		{name: "memory", cfg: Config{Driver: "memory"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, err := Open(tt.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer b.Close()

			empty, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load empty: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("fresh backend not empty: %+v", empty)
			}

			want := sampleRecords()
			if err := b.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			first, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertSame(t, first, want)

			// load(save(load(x))) == load(x)
			if err := b.Save(ctx, first); err != nil {
				t.Fatalf("Save again: %v", err)
			}
			second, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load again: %v", err)
			}
			assertSame(t, second, first)

			// Saves replace, they never merge.
			delete(want, "U2")
			if err := b.Save(ctx, want); err != nil {
				t.Fatalf("Save shrink: %v", err)
			}
			third, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load shrink: %v", err)
			}
			assertSame(t, third, want)
		})
	}
}

func TestFileStoreReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracked_users.json")
	ctx := context.Background()

	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := b.Save(ctx, sampleRecords()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = b.Close()

	b2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()
	got, err := b2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSame(t, got, sampleRecords())
}

func TestFileStoreCorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracked_users.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	got, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load corrupt: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %+v", got)
	}
	entries, _ := os.ReadDir(dir)
	moved := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt-") {
			moved = true
		}
	}
	if !moved {
		t.Fatal("corrupt file was not moved aside")
	}
}

func TestFileStoreAcceptsLegacyChannelKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracked_users.json")
	legacy := `{"U1": {"channel": "C42", "last_status": "1–Submitted"}}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	got, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["U1"].Target != "C42" || got["U1"].LastStatus != "1–Submitted" {
		t.Fatalf("legacy record not mapped: %+v", got["U1"])
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
