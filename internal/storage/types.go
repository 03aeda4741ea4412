package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the persisted form of one subscriber.
type Record struct {
	Target      string    `json:"target"`
	LastStatus  string    `json:"last_status"`
	LastUpdated time.Time `json:"last_updated"`
}

// UnmarshalJSON also accepts "channel" for target, the key older state files used.
func (r *Record) UnmarshalJSON(b []byte) error {
	var tmp struct {
		Target      string    `json:"target"`
		Channel     string    `json:"channel"`
		LastStatus  string    `json:"last_status"`
		LastUpdated time.Time `json:"last_updated"`
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	r.Target = tmp.Target
	if r.Target == "" {
		r.Target = tmp.Channel
	}
	r.LastStatus = tmp.LastStatus
	r.LastUpdated = tmp.LastUpdated
	return nil
}

// Backend loads and saves the full subscriber map.
//
// Save always receives the complete state; backends replace what they hold.
type Backend interface {
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, recs map[string]Record) error
	Close() error
}
