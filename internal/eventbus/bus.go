// Package eventbus is an in-memory fanout of activity events (deliveries,
// poll runs, subscription changes) consumed by the dashboard feed.
//
// Publish never blocks. Slow subscribers drop events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeSubscribed     = "subscriber.added"
	TypeUnsubscribed   = "subscriber.removed"
	TypeStatusChanged  = "status.changed"
	TypeDelivered      = "notify.delivered"
	TypeDeliveryFailed = "notify.failed"
	TypePollCompleted  = "poll.completed"
)

// Event is a small JSON-friendly signal.
type Event struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Identity string    `json:"identity,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Data     any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel receiving events of the given types
	// (all types when none are given) and a func to unsubscribe.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends never block. Unsubscribe closes channels under the write lock, so
	// no send here can reach a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

// Feed keeps the most recent events of a bus in a bounded ring.
type Feed struct {
	mu    sync.Mutex
	items []Event
	max   int
	stop  func()
	done  chan struct{}
}

// NewFeed subscribes to bus and keeps the last max events until Close.
func NewFeed(bus Bus, max int) *Feed {
	if max <= 0 {
		max = 100
	}
	ch, unsub := bus.Subscribe(max)
	f := &Feed{max: max, stop: unsub, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		for e := range ch {
			f.mu.Lock()
			f.items = append(f.items, e)
			if len(f.items) > f.max {
				f.items = f.items[len(f.items)-f.max:]
			}
			f.mu.Unlock()
		}
	}()
	return f
}

// Recent returns the retained events, newest last.
func (f *Feed) Recent() []Event {
	f.mu.Lock()
	out := append([]Event(nil), f.items...)
	f.mu.Unlock()
	return out
}

func (f *Feed) Close() {
	f.stop()
	<-f.done
}
