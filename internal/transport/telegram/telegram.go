// Package telegram is the Telegram platform: a Messenger backed by the Bot
// API and a long-polling Listener that turns chat commands into
// transport.Commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "trackbot/internal/runtime/supervisor"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

const Platform = "telegram"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// LedgerPath persists seen messages across restarts. Empty keeps them in memory.
	LedgerPath  string
	LedgerLimit int
	// Offline skips the getMe call at startup. Used by tests.
	Offline bool
}

type Adapter struct {
	cfg    Config
	log    logx.Logger
	bot    *tele.Bot
	ledger *ledger

	out     atomic.Value // chan<- transport.Command
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

var (
	_ transport.Messenger = (*Adapter)(nil)
	_ transport.Listener  = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, ledger: loadLedger(cfg.LedgerPath, cfg.LedgerLimit, log)}
	var nilOut chan<- transport.Command
	a.out.Store(nilOut)
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	a.ledger.add(chat, transport.Message{ID: strconv.Itoa(m.ID), Author: senderID(m), Text: m.Text, At: m.Time()})

	cmd, ok := commandFromMessage(m)
	if !ok {
		return nil
	}
	cmd.Reply = func(ctx context.Context, text string) error {
		_, err := a.PostMessage(ctx, chat, text)
		return err
	}

	out, _ := a.out.Load().(chan<- transport.Command)
	if out == nil {
		return nil
	}
	select {
	case out <- cmd:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// commandFromMessage maps a chat message to a command. Telegram users have
// no submission identity of their own, so it is taken from the first
// argument; the chat becomes the notification target.
func commandFromMessage(m *tele.Message) (transport.Command, bool) {
	kind, args, ok := transport.ParseCommand(m.Text)
	if !ok {
		return transport.Command{}, false
	}
	cmd := transport.Command{
		Kind:     kind,
		Platform: Platform,
		Target:   strconv.FormatInt(m.Chat.ID, 10),
		UserID:   senderID(m),
		Args:     args,
	}
	if len(args) > 0 {
		cmd.Identity = strings.TrimSpace(args[0])
	}
	return cmd, true
}

func senderID(m *tele.Message) string {
	if m.Sender == nil {
		return ""
	}
	return strconv.FormatInt(m.Sender.ID, 10)
}

// Start begins long polling and forwards commands to out.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Command) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go("commands.drop_report", func(c context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming commands dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return nil
			case <-ticker.C:
				report()
			}
		}
	})
	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() == nil {
			return errors.New("poller exited unexpectedly")
		}
		return nil
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop ends polling. It waits at most 2s (or ctx) for the long poll to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Command
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

func parseChat(target string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", target)
	}
	return tele.ChatID(id), nil
}

const textLimit = 4000

// PostMessage sends text as Markdown, falling back to plain text when
// Telegram cannot parse the entities. Long texts are split and every part
// is recorded; the returned ref is the first part.
func (a *Adapter) PostMessage(ctx context.Context, target, text string) (transport.MessageRef, error) {
	chat, err := parseChat(target)
	if err != nil {
		return transport.MessageRef{}, err
	}
	self, _ := a.SelfIdentity(ctx)

	var first transport.MessageRef
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "can't parse entities") {
			msg, err = a.bot.Send(chat, chunk)
		}
		if err != nil {
			return first, err
		}
		id := strconv.Itoa(msg.ID)
		a.ledger.add(target, transport.Message{ID: id, Author: self, Text: chunk, At: time.Now()})
		if first.ID == "" {
			first = transport.MessageRef{Target: target, ID: id}
		}
	}
	return first, nil
}

// DeleteMessage deletes a message. Messages Telegram no longer knows about
// or refuses to delete (older than 48h) are dropped from the ledger either way.
func (a *Adapter) DeleteMessage(ctx context.Context, target, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := parseChat(target)
	if err != nil {
		return err
	}
	err = a.bot.Delete(&tele.StoredMessage{MessageID: id, ChatID: int64(chat)})
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "message to delete not found"):
			a.ledger.remove(target, id)
			return nil
		case strings.Contains(msg, "message can't be deleted"):
			a.ledger.remove(target, id)
			return err
		default:
			return err
		}
	}
	a.ledger.remove(target, id)
	return nil
}

func (a *Adapter) ListRecentMessages(ctx context.Context, target string, limit int) ([]transport.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.ledger.recent(target, limit), nil
}

func (a *Adapter) SelfIdentity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.bot.Me == nil || a.bot.Me.ID == 0 {
		return "", errors.New("telegram: bot identity unknown")
	}
	return strconv.FormatInt(a.bot.Me.ID, 10), nil
}

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			end = len(rs)
		} else {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
