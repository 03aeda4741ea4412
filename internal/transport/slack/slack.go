// Package slack is the Slack platform: a Messenger over the Web API and the
// request parsing for slash commands and Events API callbacks, which arrive
// over HTTP.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	slackgo "github.com/slack-go/slack"

	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

const Platform = "slack"

type Config struct {
	Token string
	// APIURL overrides the Web API base URL. Tests point it at an httptest server.
	APIURL string
}

type Messenger struct {
	api *slackgo.Client
	log logx.Logger

	mu       sync.Mutex
	selfUser string
	selfBot  string
	dms      map[string]string // user id -> DM channel id
}

var _ transport.Messenger = (*Messenger)(nil)

func New(cfg Config, log logx.Logger) (*Messenger, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	opts := []slackgo.Option{}
	if cfg.APIURL != "" {
		u := cfg.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slackgo.OptionAPIURL(u))
	}
	return &Messenger{api: slackgo.New(cfg.Token, opts...), log: log, dms: map[string]string{}}, nil
}

// SelfIdentity returns the bot's user id from auth.test. A successful
// lookup is cached.
func (m *Messenger) SelfIdentity(ctx context.Context) (string, error) {
	m.mu.Lock()
	self := m.selfUser
	m.mu.Unlock()
	if self != "" {
		return self, nil
	}
	resp, err := m.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack auth.test: %w", err)
	}
	if resp.UserID == "" {
		return "", errors.New("slack auth.test: empty user id")
	}
	m.mu.Lock()
	m.selfUser, m.selfBot = resp.UserID, resp.BotID
	m.mu.Unlock()
	return resp.UserID, nil
}

// channel resolves a user id to its DM channel. Channel ids pass through.
func (m *Messenger) channel(ctx context.Context, target string) (string, error) {
	if !strings.HasPrefix(target, "U") && !strings.HasPrefix(target, "W") {
		return target, nil
	}
	m.mu.Lock()
	ch, ok := m.dms[target]
	m.mu.Unlock()
	if ok {
		return ch, nil
	}
	c, _, _, err := m.api.OpenConversationContext(ctx, &slackgo.OpenConversationParameters{Users: []string{target}})
	if err != nil {
		return "", fmt.Errorf("slack conversations.open: %w", err)
	}
	m.mu.Lock()
	m.dms[target] = c.ID
	m.mu.Unlock()
	return c.ID, nil
}

func (m *Messenger) PostMessage(ctx context.Context, target, text string) (transport.MessageRef, error) {
	ch, err := m.channel(ctx, target)
	if err != nil {
		return transport.MessageRef{}, err
	}
	_, ts, err := m.api.PostMessageContext(ctx, ch, slackgo.MsgOptionText(text, false))
	if err != nil {
		return transport.MessageRef{}, fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return transport.MessageRef{Target: target, ID: ts}, nil
}

func (m *Messenger) DeleteMessage(ctx context.Context, target, id string) error {
	ch, err := m.channel(ctx, target)
	if err != nil {
		return err
	}
	if _, _, err := m.api.DeleteMessageContext(ctx, ch, id); err != nil {
		return fmt.Errorf("slack chat.delete: %w", err)
	}
	return nil
}

// ListRecentMessages returns the newest messages of the target's channel.
// Messages posted by this bot are attributed to its user id even when
// Slack reports only the bot id.
func (m *Messenger) ListRecentMessages(ctx context.Context, target string, limit int) ([]transport.Message, error) {
	ch, err := m.channel(ctx, target)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	resp, err := m.api.GetConversationHistoryContext(ctx, &slackgo.GetConversationHistoryParameters{ChannelID: ch, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("slack conversations.history: %w", err)
	}
	m.mu.Lock()
	selfUser, selfBot := m.selfUser, m.selfBot
	m.mu.Unlock()

	out := make([]transport.Message, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		author := msg.User
		switch {
		case selfBot != "" && msg.BotID == selfBot:
			author = selfUser
		case author == "":
			author = msg.BotID
		}
		out = append(out, transport.Message{ID: msg.Timestamp, Author: author, Text: msg.Text, At: parseTS(msg.Timestamp)})
	}
	return out, nil
}

func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var us int64
	if frac != "" {
		us, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	return time.Unix(s, us*int64(time.Microsecond)).UTC()
}
