package transport

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrMessageNotFound is returned by Memory.DeleteMessage for unknown ids.
var ErrMessageNotFound = errors.New("message not found")

// Memory is an in-process Messenger. It backs the "memory" platform used for
// dry runs and is the fake messenger in tests.
type Memory struct {
	mu       sync.Mutex
	self     string
	seq      int
	channels map[string][]Message

	selfErr   error
	listErr   error
	postFails int
	postErr   error
	failDel   map[string]error

	posts   int
	deletes int
}

func NewMemory(self string) *Memory {
	if self == "" {
		self = "trackbot"
	}
	return &Memory{self: self, channels: map[string][]Message{}, failDel: map[string]error{}}
}

// Seed appends a message authored by author to target and returns its id.
func (m *Memory) Seed(target, author, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(target, author, text)
}

func (m *Memory) appendLocked(target, author, text string) string {
	m.seq++
	id := strconv.Itoa(m.seq)
	m.channels[target] = append(m.channels[target], Message{ID: id, Author: author, Text: text, At: time.Now()})
	return id
}

// FailSelf makes SelfIdentity fail with err (nil clears).
func (m *Memory) FailSelf(err error) { m.mu.Lock(); m.selfErr = err; m.mu.Unlock() }

// FailList makes ListRecentMessages fail with err (nil clears).
func (m *Memory) FailList(err error) { m.mu.Lock(); m.listErr = err; m.mu.Unlock() }

// FailPosts makes the next n PostMessage calls fail with err.
func (m *Memory) FailPosts(n int, err error) {
	m.mu.Lock()
	m.postFails, m.postErr = n, err
	m.mu.Unlock()
}

// FailDelete makes deleting message id fail with err.
func (m *Memory) FailDelete(id string, err error) { m.mu.Lock(); m.failDel[id] = err; m.mu.Unlock() }

// Messages returns a copy of target's history, oldest first.
func (m *Memory) Messages(target string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.channels[target]...)
}

// Counts returns the number of successful posts and deletes.
func (m *Memory) Counts() (posts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts, m.deletes
}

func (m *Memory) PostMessage(ctx context.Context, target, text string) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postFails > 0 {
		m.postFails--
		return MessageRef{}, m.postErr
	}
	m.posts++
	return MessageRef{Target: target, ID: m.appendLocked(target, m.self, text)}, nil
}

func (m *Memory) DeleteMessage(ctx context.Context, target, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDel[id]; err != nil {
		return err
	}
	msgs := m.channels[target]
	for i, msg := range msgs {
		if msg.ID == id {
			m.channels[target] = append(msgs[:i:i], msgs[i+1:]...)
			m.deletes++
			return nil
		}
	}
	return ErrMessageNotFound
}

func (m *Memory) ListRecentMessages(ctx context.Context, target string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	msgs := m.channels[target]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	// Newest first, like platform history APIs.
	out := make([]Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (m *Memory) SelfIdentity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selfErr != nil {
		return "", m.selfErr
	}
	return m.self, nil
}
