package submissions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	logx "trackbot/pkg/logx"
)

var (
	// ErrUpstreamUnavailable means the fetch failed and nothing was ever cached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound means no known submission carries the identity.
	ErrNotFound = errors.New("submission not found")
)

// DefaultTTL is how long fetched data is served without refetching.
const DefaultTTL = 2 * time.Minute

// Cache is a time-bounded memoized view of the upstream submission list.
//
// Refresh is lazy (on read). Concurrent readers that observe an expired
// entry share a single in-flight refresh. When a refresh fails, the last
// successful data is served regardless of its age.
//
// The returned slices are shared between callers and must not be modified.
type Cache struct {
	src Source
	ttl time.Duration
	log logx.Logger
	now func() time.Time

	mu        sync.RWMutex
	data      []Record
	fetchedAt time.Time
	hasData   bool
	lastErr   error
	lastErrAt time.Time

	sf singleflight.Group

	hits        atomic.Uint64
	refreshes   atomic.Uint64
	failures    atomic.Uint64
	staleServes atomic.Uint64
}

type Option func(*Cache)

// WithClock replaces time.Now. Tests use it to move past the TTL.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCache(src Source, ttl time.Duration, log logx.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cache{src: src, ttl: ttl, log: log, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats is a point-in-time view of the cache for dashboards.
type Stats struct {
	TTL         time.Duration `json:"ttl"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Records     int           `json:"records"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt time.Time     `json:"last_error_at"`
	Hits        uint64        `json:"hits"`
	Refreshes   uint64        `json:"refreshes"`
	Failures    uint64        `json:"failures"`
	StaleServes uint64        `json:"stale_serves"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	st := Stats{
		TTL:         c.ttl,
		FetchedAt:   c.fetchedAt,
		Records:     len(c.data),
		LastErrorAt: c.lastErrAt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.RUnlock()
	st.Hits = c.hits.Load()
	st.Refreshes = c.refreshes.Load()
	st.Failures = c.failures.Load()
	st.StaleServes = c.staleServes.Load()
	return st
}

// fresh returns the cached data if it is younger than the TTL.
func (c *Cache) fresh() ([]Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hasData && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.data, true
	}
	return nil, false
}

// Submissions returns the submission list, refreshing it when expired.
func (c *Cache) Submissions(ctx context.Context) ([]Record, error) {
	if data, ok := c.fresh(); ok {
		c.hits.Add(1)
		return data, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	v, err, shared := c.sf.Do("refresh", func() (any, error) {
		// A refresh may have completed between the freshness check and here.
		if data, ok := c.fresh(); ok {
			return data, nil
		}
		// The refresh result is shared; one caller's cancellation must not fail the others.
		return c.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		c.log.Trace("joined in-flight refresh")
	}
	if err != nil {
		return nil, err
	}
	data, _ := v.([]Record)
	return data, nil
}

func (c *Cache) refresh(ctx context.Context) ([]Record, error) {
	start := c.now()
	c.refreshes.Add(1)
	data, err := c.src.Fetch(ctx)
	if err == nil {
		if data == nil {
			data = []Record{}
		}
		c.mu.Lock()
		c.data = data
		c.fetchedAt = c.now()
		c.hasData = true
		c.mu.Unlock()
		c.log.Debug("submissions refreshed", logx.Int("records", len(data)), logx.Duration("took", c.now().Sub(start)))
		return data, nil
	}

	c.failures.Add(1)
	c.mu.Lock()
	c.lastErr = err
	c.lastErrAt = c.now()
	stale := c.data
	has := c.hasData
	fetchedAt := c.fetchedAt
	c.mu.Unlock()

	if has {
		c.staleServes.Add(1)
		c.log.Warn("submissions refresh failed; serving stale data",
			logx.Err(err),
			logx.Duration("age", c.now().Sub(fetchedAt)),
		)
		return stale, nil
	}
	c.log.Warn("submissions refresh failed; nothing cached", logx.Err(err))
	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// Lookup returns the first record whose aliases contain identity.
func (c *Cache) Lookup(ctx context.Context, identity string) (Record, error) {
	data, err := c.Submissions(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range data {
		if r.Has(identity) {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

// FindStatus returns the raw status code for identity.
func (c *Cache) FindStatus(ctx context.Context, identity string) (string, error) {
	r, err := c.Lookup(ctx, identity)
	if err != nil {
		return "", err
	}
	return r.Status, nil
}
