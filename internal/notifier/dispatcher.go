package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trackbot/internal/change"
	"trackbot/internal/composer"
	"trackbot/internal/eventbus"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

// ErrDelivery wraps a final post failure.
var ErrDelivery = errors.New("notification not delivered")

const historyMax = 300

// Dispatcher implements clear-then-post delivery. It is safe for concurrent use.
type Dispatcher struct {
	log  logx.Logger
	msgr transport.Messenger
	comp composer.Composer
	bus  eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	selfMu sync.Mutex
	self   string

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, msgr transport.Messenger, comp composer.Composer, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if comp == nil {
		comp = composer.Disabled{}
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	d := &Dispatcher{log: log, msgr: msgr, comp: comp, bus: bus}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// Notify composes the notice for ch, clears the bot's previous messages in
// target and posts the notice.
func (d *Dispatcher) Notify(ctx context.Context, target string, ch change.Change) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: empty target", ErrDelivery)
	}
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	log := d.log.With(logx.String("identity", ch.Identity), logx.String("target", target))
	text, fallback := d.compose(ctx, cfg, ch, log)

	item := HistoryItem{
		At:       time.Now(),
		Identity: ch.Identity,
		Target:   target,
		Class:    ch.NewClass.String(),
		Text:     text,
		Fallback: fallback,
	}

	self, err := d.selfIdentity(ctx)
	if err != nil {
		// Without our own identity nothing can be matched; the notice still goes out.
		log.Warn("self identity unavailable; skipping clear", logx.Err(err))
		item.ClearSkipped = true
	} else {
		item.Cleared, item.ClearSkipped = d.clear(ctx, cfg, target, self, log)
	}

	ref, err := d.postWithRetry(ctx, cfg, lim, target, text, log)
	if err != nil {
		item.Error = err.Error()
		d.appendHistory(item)
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Identity: ch.Identity, Detail: err.Error(), Data: item})
		log.Error("notification not delivered", logx.Err(err))
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	item.MessageID = ref.ID
	d.appendHistory(item)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDelivered, Identity: ch.Identity, Detail: ch.NewClass.Label(), Data: item})
	log.Info("notification delivered",
		logx.String("class", ch.NewClass.String()),
		logx.Int("cleared", item.Cleared),
		logx.Bool("clear_skipped", item.ClearSkipped),
		logx.Bool("fallback", fallback),
	)
	return nil
}

func (d *Dispatcher) compose(ctx context.Context, cfg Config, ch change.Change, log logx.Logger) (string, bool) {
	req := composer.Request{
		New:       ch.NewClass,
		Old:       ch.OldClass,
		HasOld:    ch.HasOld(),
		NewStatus: ch.NewStatus,
		OldStatus: ch.OldStatus,
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.ComposerTimeout)
	text, err := d.comp.Compose(cctx, req)
	cancel()
	text = strings.TrimSpace(text)
	if err == nil && text != "" {
		return text, false
	}
	if err == nil {
		err = composer.ErrUnavailable
	}
	if errors.Is(err, composer.ErrUnavailable) {
		log.Debug("composer unavailable; using template", logx.Err(err))
	} else {
		log.Warn("composer failed; using template", logx.Err(err))
	}
	return composer.Fallback(req), true
}

// selfIdentity resolves the bot's own author id once and caches it.
func (d *Dispatcher) selfIdentity(ctx context.Context) (string, error) {
	d.selfMu.Lock()
	defer d.selfMu.Unlock()
	if d.self != "" {
		return d.self, nil
	}
	id, err := d.msgr.SelfIdentity(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("empty self identity")
	}
	d.self = id
	return id, nil
}

// clear deletes every message authored by self among the recent history of
// target. It returns the number of deleted messages, and skipped when the
// history could not be listed.
func (d *Dispatcher) clear(ctx context.Context, cfg Config, target, self string, log logx.Logger) (deleted int, skipped bool) {
	lctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	msgs, err := d.msgr.ListRecentMessages(lctx, target, cfg.HistoryLimit)
	cancel()
	if err != nil {
		log.Warn("list channel history failed", logx.Err(err))
		return 0, true
	}
	for _, m := range msgs {
		if m.Author != self {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := d.msgr.DeleteMessage(dctx, target, m.ID)
		cancel()
		if err != nil {
			log.Warn("delete previous notice failed", logx.String("message_id", m.ID), logx.Err(err))
			continue
		}
		deleted++
	}
	return deleted, false
}

func (d *Dispatcher) postWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, target, text string, log logx.Logger) (transport.MessageRef, error) {
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return transport.MessageRef{}, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := d.msgr.PostMessage(callCtx, target, text)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		log.Debug("post failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return transport.MessageRef{}, ctx.Err()
		}
	}
	return transport.MessageRef{}, lastErr
}

// History returns recent deliveries, oldest first.
func (d *Dispatcher) History() []HistoryItem {
	d.hmu.Lock()
	out := append([]HistoryItem(nil), d.history...)
	d.hmu.Unlock()
	return out
}

func (d *Dispatcher) appendHistory(it HistoryItem) {
	d.hmu.Lock()
	d.history = append(d.history, it)
	if len(d.history) > historyMax {
		d.history = d.history[len(d.history)-historyMax:]
	}
	d.hmu.Unlock()
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), jittered
// by 0.7..1.3 and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
