package storage

import (
	"context"
	"sync"
)

// Memory is a process-local backend. It never fails unless FailSaves is set.
type Memory struct {
	mu        sync.Mutex
	recs      map[string]Record
	saves     int
	failSaves error
}

func NewMemory() *Memory { return &Memory{recs: map[string]Record{}} }

func (m *Memory) Load(ctx context.Context) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.recs), nil
}

func (m *Memory) Save(ctx context.Context, recs map[string]Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves != nil {
		return m.failSaves
	}
	m.recs = cloneRecords(recs)
	m.saves++
	return nil
}

func (m *Memory) Close() error { return nil }

// Saves reports how many successful saves happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailSaves makes subsequent saves return err (nil restores normal behavior).
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	m.failSaves = err
	m.mu.Unlock()
}

func cloneRecords(in map[string]Record) map[string]Record {
	out := make(map[string]Record, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
