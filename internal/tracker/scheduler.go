package tracker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"trackbot/internal/change"
	"trackbot/internal/eventbus"
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	logx "trackbot/pkg/logx"
)

// DefaultInterval between poll runs.
const DefaultInterval = 5 * time.Minute

// Notifier delivers one change notice. *notifier.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, target string, ch change.Change) error
}

type SchedulerConfig struct {
	Interval time.Duration
	// Schedule is an optional cron expression overriding Interval.
	Schedule string
	Timezone string
}

func (c SchedulerConfig) cronExpr() string {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		return s
	}
	iv := c.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	return "@every " + iv.String()
}

// Report summarizes one poll run.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Checked    int           `json:"checked"`
	Unchanged  int           `json:"unchanged"`
	Changed    int           `json:"changed"`
	Notified   int           `json:"notified"`
	Skipped    int           `json:"skipped"`
	Superseded int           `json:"superseded"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
}

// Scheduler runs the poll over all subscribers on a fixed period.
type Scheduler struct {
	log    logx.Logger
	src    StatusSource
	store  *subscribers.Store
	notify Notifier
	bus    eventbus.Bus
	cfg    SchedulerConfig
	parser cron.Parser

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc

	// serializes scheduled and on-demand runs
	runMu sync.Mutex

	lastMu sync.Mutex
	last   Report
	hasRun bool
}

func NewScheduler(cfg SchedulerConfig, src StatusSource, store *subscribers.Store, n Notifier, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Scheduler{
		log:    log,
		src:    src,
		store:  store,
		notify: n,
		bus:    bus,
		cfg:    cfg,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the poll job and starts triggering. Runs use a context
// derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	expr := s.cfg.cronExpr()
	if _, err := c.AddFunc(expr, func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("poll schedule %q: %w", expr, err)
	}
	c.Start()
	s.c, s.cancel = c, cancel
	s.log.Info("poll scheduler started", logx.String("schedule", expr), logx.String("tz", loc.String()))
	return nil
}

// Stop cancels an in-flight run between subscribers and waits for it to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("poll scheduler stopped")
}

// Next returns the next scheduled run time (zero when not started).
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// LastReport returns the report of the last completed run.
func (s *Scheduler) LastReport() (Report, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last, s.hasRun
}

// RunOnce performs one poll run over a snapshot of the subscriber store.
//
// A detected change is persisted before it is dispatched: a failed or
// interrupted dispatch results in a missed notice, never a repeated one.
// Cancellation is honored between subscribers.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	rep := Report{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := s.log.With(logx.String("run", rep.RunID))

	snap := s.store.Snapshot()
	log.Debug("poll run started", logx.Int("subscribers", len(snap)))
	for _, sub := range snap {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
		s.check(ctx, sub, &rep, log)
	}
	rep.Duration = time.Since(rep.StartedAt)

	s.lastMu.Lock()
	s.last, s.hasRun = rep, true
	s.lastMu.Unlock()

	s.bus.Publish(eventbus.Event{Type: eventbus.TypePollCompleted, Data: rep})
	log.Info("poll run finished",
		logx.Int("checked", rep.Checked),
		logx.Int("changed", rep.Changed),
		logx.Int("notified", rep.Notified),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Bool("cancelled", rep.Cancelled),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

// check processes one subscriber. A panic is confined to that subscriber.
func (s *Scheduler) check(ctx context.Context, sub subscribers.Record, rep *Report, log logx.Logger) {
	log = log.With(logx.String("identity", sub.Identity))
	defer func() {
		if r := recover(); r != nil {
			rep.Failed++
			log.Error("panic while checking subscriber", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	rep.Checked++

	status, err := s.src.FindStatus(ctx, sub.Identity)
	switch {
	case errors.Is(err, submissions.ErrNotFound):
		rep.Skipped++
		log.Debug("submission not found; skipping")
		return
	case err != nil:
		rep.Skipped++
		log.Warn("status lookup failed; skipping", logx.Err(err))
		return
	}

	ch := change.Detect(sub, status)
	if !ch.Changed {
		rep.Unchanged++
		return
	}

	updated, err := s.store.UpdateStatus(ctx, sub.Identity, sub.LastStatus, status)
	if err != nil && !errors.Is(err, subscribers.ErrPersistence) {
		rep.Failed++
		log.Error("status update failed", logx.Err(err))
		return
	}
	if !updated {
		// Unsubscribed or re-seeded since the snapshot was taken.
		rep.Superseded++
		log.Debug("subscriber changed during run; skipping")
		return
	}
	rep.Changed++
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, Identity: sub.Identity, Detail: ch.OldStatus + " -> " + ch.NewStatus})
	log.Info("status changed", logx.String("old", ch.OldStatus), logx.String("new", ch.NewStatus))

	if err := s.notify.Notify(ctx, sub.Target, ch); err != nil {
		rep.Failed++
		log.Warn("notification failed; status already recorded", logx.Err(err))
		return
	}
	rep.Notified++
}

// cronLogger routes robfig/cron logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
