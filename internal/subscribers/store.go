// Package subscribers owns the durable set of tracked subscribers.
//
// The key set of the Store is exactly the set of tracked identities. Every
// mutation is persisted synchronously through a storage.Backend before the
// call returns.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"trackbot/internal/storage"
	logx "trackbot/pkg/logx"
)

// ErrPersistence wraps backend write failures. The in-memory state is kept
// and the next successful save reconciles it.
var ErrPersistence = errors.New("persist subscribers")

// ErrTargetMismatch is returned when an identity is already tracked for a
// different delivery target. An identity stays bound to the target that
// first tracked it until that target untracks it.
var ErrTargetMismatch = errors.New("identity is tracked from another target")

// Record is one tracked subscriber.
type Record struct {
	Identity    string    `json:"identity"`
	Target      string    `json:"target"`
	LastStatus  string    `json:"last_status"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store is the single shared subscriber state. It is safe for concurrent use.
//
// A single mutex serializes reads and read-modify-persist sequences; the
// expected cardinality is small.
type Store struct {
	log     logx.Logger
	backend storage.Backend
	now     func() time.Time
	timeout time.Duration

	mu   sync.Mutex
	recs map[string]storage.Record
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPersistTimeout bounds each backend save (default 5s).
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Open loads the persisted state from backend.
func Open(ctx context.Context, backend storage.Backend, log logx.Logger, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("subscribers: backend is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Store{
		log:     log,
		backend: backend,
		now:     time.Now,
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}

	recs, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	if recs == nil {
		recs = map[string]storage.Record{}
	}
	s.recs = recs
	log.Info("subscribers loaded", logx.Int("count", len(recs)))
	return s, nil
}

func toRecord(id string, r storage.Record) Record {
	return Record{Identity: id, Target: r.Target, LastStatus: r.LastStatus, LastUpdated: r.LastUpdated}
}

func (s *Store) Get(identity string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[identity]
	if !ok {
		return Record{}, false
	}
	return toRecord(identity, r), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// Snapshot returns a point-in-time copy of all records, sorted by identity.
// Later mutations do not affect the returned slice.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.recs))
	for id, r := range s.recs {
		out = append(out, toRecord(id, r))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Subscribe creates or refreshes the record for identity with a freshly
// observed status. It fails with ErrTargetMismatch when identity is already
// tracked for another target.
func (s *Store) Subscribe(ctx context.Context, identity, target, status string) (Record, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Record{}, errors.New("subscribers: identity is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.recs[identity]; ok && cur.Target != target {
		return toRecord(identity, cur), ErrTargetMismatch
	}
	r := storage.Record{Target: target, LastStatus: status, LastUpdated: s.now().UTC()}
	s.recs[identity] = r
	return toRecord(identity, r), s.persistLocked(ctx)
}

// Unsubscribe removes identity on behalf of target. It reports whether the
// identity was tracked, and fails with ErrTargetMismatch when it is tracked
// for another target.
func (s *Store) Unsubscribe(ctx context.Context, identity, target string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[identity]
	if !ok {
		return false, nil
	}
	if cur.Target != target {
		return false, ErrTargetMismatch
	}
	delete(s.recs, identity)
	return true, s.persistLocked(ctx)
}

// UpdateStatus sets the status of identity to newStatus only if the record
// still exists and still holds expectedOld. It reports whether it updated.
//
// The compare step keeps a concurrent unsubscribe or re-subscribe from being
// overwritten by a poll run working from an older snapshot.
func (s *Store) UpdateStatus(ctx context.Context, identity, expectedOld, newStatus string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[identity]
	if !ok || r.LastStatus != expectedOld {
		return false, nil
	}
	r.LastStatus = newStatus
	r.LastUpdated = s.now().UTC()
	s.recs[identity] = r
	return true, s.persistLocked(ctx)
}

// Flush writes the current state regardless of pending changes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Close flushes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	ferr := s.Flush(ctx)
	cerr := s.backend.Close()
	return errors.Join(ferr, cerr)
}

func (s *Store) persistLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// A cancelled caller must not prevent an already-decided write.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	snap := make(map[string]storage.Record, len(s.recs))
	for k, v := range s.recs {
		snap[k] = v
	}
	if err := s.backend.Save(cctx, snap); err != nil {
		s.log.Error("subscriber state not persisted; keeping in-memory state", logx.Err(err), logx.Int("count", len(snap)))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
