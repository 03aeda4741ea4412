// Package tracker drives subscriptions: foreground operations issued by users
// (Service) and the periodic poll run (Scheduler).
//
// Both sides share state only through subscribers.Store.
package tracker

import (
	"context"
	"errors"
	"strings"

	"trackbot/internal/eventbus"
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	logx "trackbot/pkg/logx"
)

// StatusSource resolves an identity's current raw status.
// *submissions.Cache implements it.
type StatusSource interface {
	FindStatus(ctx context.Context, identity string) (string, error)
}

var ErrEmptyIdentity = errors.New("identity is empty")

// StatusView is the presentation of one identity's current status.
type StatusView struct {
	Identity    string `json:"identity"`
	Status      string `json:"status"`
	Class       string `json:"class"`
	Label       string `json:"label"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	Tracked     bool   `json:"tracked"`
}

func NewStatusView(identity, raw string) StatusView {
	c := submissions.Classify(raw)
	return StatusView{
		Identity:    identity,
		Status:      raw,
		Class:       c.String(),
		Label:       c.Label(),
		Emoji:       c.Emoji(),
		Description: submissions.Describe(raw),
	}
}

// Service implements the user-facing operations.
type Service struct {
	log   logx.Logger
	src   StatusSource
	store *subscribers.Store
	bus   eventbus.Bus
}

func NewService(src StatusSource, store *subscribers.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{log: log, src: src, store: store, bus: bus}
}

// Track subscribes identity for delivery to target, seeding the stored status
// with the current one. It returns submissions.ErrNotFound or
// submissions.ErrUpstreamUnavailable when no current status can be resolved,
// and subscribers.ErrTargetMismatch when another target already tracks
// identity; nothing is stored then.
func (s *Service) Track(ctx context.Context, identity, target string) (subscribers.Record, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return subscribers.Record{}, ErrEmptyIdentity
	}
	status, err := s.src.FindStatus(ctx, identity)
	if err != nil {
		return subscribers.Record{}, err
	}
	rec, err := s.store.Subscribe(ctx, identity, target, status)
	if errors.Is(err, subscribers.ErrTargetMismatch) {
		s.log.Warn("track refused; identity bound to another target", logx.String("identity", identity), logx.String("target", target))
		return subscribers.Record{}, err
	}
	if err != nil && !errors.Is(err, subscribers.ErrPersistence) {
		return subscribers.Record{}, err
	}
	// A persistence failure keeps the in-memory subscription; the store logged it.
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSubscribed, Identity: identity, Detail: status})
	s.log.Info("subscriber tracked", logx.String("identity", identity), logx.String("status", status))
	return rec, nil
}

// Untrack removes identity on behalf of target. It reports whether identity
// was tracked; subscribers.ErrTargetMismatch means another target owns it.
func (s *Service) Untrack(ctx context.Context, identity, target string) (bool, error) {
	identity = strings.TrimSpace(identity)
	ok, err := s.store.Unsubscribe(ctx, identity, target)
	if errors.Is(err, subscribers.ErrTargetMismatch) {
		s.log.Warn("untrack refused; identity bound to another target", logx.String("identity", identity), logx.String("target", target))
		return false, err
	}
	if err != nil && !errors.Is(err, subscribers.ErrPersistence) {
		return false, err
	}
	if ok {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeUnsubscribed, Identity: identity})
		s.log.Info("subscriber untracked", logx.String("identity", identity))
	}
	return ok, nil
}

// Status resolves identity's current status through the cache.
func (s *Service) Status(ctx context.Context, identity string) (StatusView, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return StatusView{}, ErrEmptyIdentity
	}
	raw, err := s.src.FindStatus(ctx, identity)
	if err != nil {
		return StatusView{}, err
	}
	v := NewStatusView(identity, raw)
	_, v.Tracked = s.store.Get(identity)
	return v, nil
}

// List returns all subscribers sorted by identity.
func (s *Service) List() []subscribers.Record {
	return s.store.Snapshot()
}
