package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Durations parses config duration strings and collects every failure, so a
// bad config reports all of its broken fields at once.
//
//	var d config.Durations
//	ttl := d.Get("upstream.cache_ttl", cfg.Upstream.CacheTTL, 2*time.Minute)
//	if err := d.Err(); err != nil { ... }
type Durations struct{ errs []error }

// Get returns the parsed value at path, or def when raw is empty or zero.
// Malformed or negative values are recorded and yield def.
func (d *Durations) Get(path, raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	switch {
	case err != nil:
		d.errs = append(d.errs, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err))
		return def
	case v < 0:
		d.errs = append(d.errs, fmt.Errorf("%s: duration must be >= 0, got %q", path, raw))
		return def
	case v == 0:
		return def
	}
	return v
}

// Err joins every recorded failure; nil when all values parsed.
func (d *Durations) Err() error { return errors.Join(d.errs...) }
