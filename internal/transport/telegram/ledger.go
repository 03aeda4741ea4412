package telegram

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"trackbot/internal/storage"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

// The Bot API cannot read chat history, so the adapter remembers the
// messages it has seen per chat. The ledger is what ListRecentMessages
// returns.
type ledger struct {
	saveMu sync.Mutex // serializes snapshot+write so the newest state lands last

	mu    sync.Mutex
	path  string
	limit int
	chats map[string][]ledgerEntry
	log   logx.Logger
}

type ledgerEntry struct {
	ID     string    `json:"id"`
	Author string    `json:"author"`
	Text   string    `json:"text,omitempty"`
	At     time.Time `json:"at"`
}

const defaultLedgerLimit = 200

// loadLedger reads path if it exists. A missing or unreadable file starts
// an empty ledger; an empty path keeps it in memory only.
func loadLedger(path string, limit int, log logx.Logger) *ledger {
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &ledger{path: path, limit: limit, chats: map[string][]ledgerEntry{}, log: log}
	if path == "" {
		return l
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("telegram ledger unreadable; starting empty", logx.String("path", path), logx.Err(err))
		}
		return l
	}
	var chats map[string][]ledgerEntry
	if err := json.Unmarshal(b, &chats); err != nil {
		log.Warn("telegram ledger corrupt; starting empty", logx.String("path", path), logx.Err(err))
		return l
	}
	for chat, entries := range chats {
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		l.chats[chat] = entries
	}
	return l
}

func (l *ledger) add(chat string, m transport.Message) {
	l.mu.Lock()
	entries := append(l.chats[chat], ledgerEntry{ID: m.ID, Author: m.Author, Text: m.Text, At: m.At})
	if len(entries) > l.limit {
		entries = entries[len(entries)-l.limit:]
	}
	l.chats[chat] = entries
	l.mu.Unlock()
	l.persist()
}

func (l *ledger) remove(chat, id string) bool {
	l.mu.Lock()
	entries := l.chats[chat]
	found := false
	for i, e := range entries {
		if e.ID == id {
			l.chats[chat] = append(entries[:i:i], entries[i+1:]...)
			found = true
			break
		}
	}
	if found && len(l.chats[chat]) == 0 {
		delete(l.chats, chat)
	}
	l.mu.Unlock()
	if found {
		l.persist()
	}
	return found
}

// recent returns up to limit entries of chat, newest first.
func (l *ledger) recent(chat string, limit int) []transport.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.chats[chat]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]transport.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out = append(out, transport.Message{ID: e.ID, Author: e.Author, Text: e.Text, At: e.At})
	}
	return out
}

func (l *ledger) persist() {
	if l.path == "" {
		return
	}
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	l.mu.Lock()
	snap := make(map[string][]ledgerEntry, len(l.chats))
	for k, v := range l.chats {
		snap[k] = append([]ledgerEntry(nil), v...)
	}
	l.mu.Unlock()
	if err := storage.WriteJSONFile(l.path, snap); err != nil {
		l.log.Warn("telegram ledger save failed", logx.String("path", l.path), logx.Err(err))
	}
}
