// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trackbot/internal/config"
	"trackbot/internal/eventbus"
	"trackbot/internal/httpapi"
	"trackbot/internal/notifier"
	rtsup "trackbot/internal/runtime/supervisor"
	"trackbot/internal/storage"
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	"trackbot/internal/tracker"
	"trackbot/internal/transport"
	"trackbot/internal/transport/router"
	slacktr "trackbot/internal/transport/slack"
	"trackbot/internal/transport/telegram"
	logx "trackbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	feed *eventbus.Feed

	messenger transport.Messenger
	listener  transport.Listener

	cache  *submissions.Cache
	store  *subscribers.Store
	disp   *notifier.Dispatcher
	svc    *tracker.Service
	sched  *tracker.Scheduler
	router *router.Router
	http   *httpapi.Server

	commands chan transport.Command
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start (or RunOnce).
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	return build(ctx, cfgm, cfg, nil)
}

// build assembles the app. A non-nil msgr replaces the configured platform.
func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config, msgr transport.Messenger) (*App, error) {
	// The chat sink has no poster until the messenger exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	a := &App{cfgm: cfgm, cfg: cfg, log: log.With(logx.String("comp", "app")), logs: logSvc}
	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	if msgr == nil {
		msgr, a.listener, err = buildMessenger(cfg, sc, log)
		if err != nil {
			return fail(err)
		}
	}
	a.messenger = msgr
	logSvc.SetPoster(messengerPoster{m: msgr})

	var d config.Durations
	upTimeout := d.Get("upstream.timeout", cfg.Upstream.Timeout, 15*time.Second)
	ttl := d.Get("upstream.cache_ttl", cfg.Upstream.CacheTTL, submissions.DefaultTTL)
	cmdTimeout := d.Get("messenger.command_timeout", cfg.Messenger.CommandTimeout, 20*time.Second)
	shutdown := d.Get("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 10*time.Second)
	if err := d.Err(); err != nil {
		return fail(err)
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	comp, err := buildComposer(cfg)
	if err != nil {
		return fail(err)
	}
	persist, err := persistTimeout(cfg)
	if err != nil {
		return fail(err)
	}

	backend, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(err)
	}
	store, err := subscribers.Open(ctx, backend, log.With(logx.String("comp", "subscribers")), subscribers.WithPersistTimeout(persist))
	if err != nil {
		_ = backend.Close()
		return fail(err)
	}
	a.log.Info("subscriber state loaded", logx.String("driver", sc.Driver), logx.Int("subscribers", store.Len()))

	a.bus = eventbus.New()
	a.feed = eventbus.NewFeed(a.bus, 200)
	a.store = store
	a.cache = submissions.NewCache(submissions.NewHTTPSource(cfg.Upstream.URL, upTimeout), ttl, log.With(logx.String("comp", "submissions")))
	a.disp = notifier.New(ncfg, msgr, comp, log.With(logx.String("comp", "notifier")), a.bus)
	a.svc = tracker.NewService(a.cache, store, log.With(logx.String("comp", "tracker")), a.bus)
	a.sched = tracker.NewScheduler(schedCfg, a.cache, store, a.disp, log.With(logx.String("comp", "scheduler")), a.bus)
	a.router = router.New(a.svc, log.With(logx.String("comp", "router")), cmdTimeout)
	a.commands = make(chan transport.Command, 64)

	if cfg.HTTP.Enabled {
		addr := strings.TrimSpace(cfg.HTTP.Addr)
		if addr == "" {
			addr = defaultHTTPAddr
		}
		deps := httpapi.Deps{
			Tracker:  a.svc,
			Poller:   a.sched,
			Cache:    a.cache,
			History:  a.disp.History,
			Feed:     a.feed,
			Health:   a.Health,
			Commands: a.commands,
		}
		if strings.EqualFold(strings.TrimSpace(cfg.Messenger.Platform), slacktr.Platform) {
			deps.SigningSecret = cfg.Slack.SigningSecret
			deps.Messenger = msgr
		}
		a.http = httpapi.New(httpapi.Config{
			Addr:            addr,
			ShutdownTimeout: shutdown,
			Pprof:           cfg.HTTP.Pprof,
			PprofToken:      cfg.HTTP.PprofToken,
		}, deps, log.With(logx.String("comp", "http")))
	}
	return a, nil
}

func buildMessenger(cfg *config.Config, sc storage.Config, log logx.Logger) (transport.Messenger, transport.Listener, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Messenger.Platform)) {
	case slacktr.Platform:
		m, err := slacktr.New(slacktr.Config{Token: cfg.Slack.Token}, log.With(logx.String("comp", "slack")))
		return m, nil, err
	case telegram.Platform:
		var d config.Durations
		pt := d.Get("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err := d.Err(); err != nil {
			return nil, nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pt,
			LedgerPath:  ledgerPath(cfg, sc),
			LedgerLimit: cfg.Telegram.LedgerLimit,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, nil, err
		}
		return ad, ad, nil
	default:
		log.Warn("memory messenger selected; notifications stay in-process")
		return transport.NewMemory("trackbot"), nil, nil
	}
}

// messengerPoster lets the log chat sink post through the messenger.
type messengerPoster struct{ m transport.Messenger }

func (p messengerPoster) Post(ctx context.Context, target, text string) error {
	_, err := p.m.PostMessage(ctx, target, text)
	return err
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.listener != nil {
		if err := a.listener.Start(a.sup.Context(), a.commands); err != nil {
			return err
		}
	}
	a.sup.GoRestart("commands.serve", func(c context.Context) error {
		return a.router.Serve(c, a.commands)
	})
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.cfg.Poll.RunOnStart {
		a.sup.Go("poll.initial", func(c context.Context) error {
			a.sched.RunOnce(c)
			return nil
		})
	}
	if a.http != nil {
		a.sup.GoRestart("http", a.http.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
			rtsup.WithMaxRestarts(5),
		)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("identity", e.Identity), logx.String("detail", e.Detail))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("platform", a.platform()),
		logx.Bool("http", a.http != nil),
		logx.Int("subscribers", a.store.Len()),
	)
	return nil
}

func (a *App) platform() string {
	if p := strings.TrimSpace(a.cfg.Messenger.Platform); p != "" {
		return p
	}
	return "memory"
}

// applyConfig applies the live-reloadable sections and warns about the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	for _, s := range ch.Sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "notifier":
			ncfg, err := mapNotifierConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
				continue
			}
			a.disp.Apply(ncfg)
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
	if ch.RestartRequired {
		a.log.Warn("config change requires a restart to take effect", logx.String("changed", strings.Join(ch.Sections, ",")))
	}
}

// Check returns identity's current status without subscribing.
func (a *App) Check(ctx context.Context, identity string) (tracker.StatusView, error) {
	return a.svc.Status(ctx, identity)
}

// RunOnce performs a single poll run.
func (a *App) RunOnce(ctx context.Context) tracker.Report {
	return a.sched.RunOnce(ctx)
}

// Health is the per-loop supervisor view.
func (a *App) Health() []rtsup.LoopStats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Snapshot()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	// step runs fn bounded by max (and never beyond ctx's deadline).
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.listener != nil {
		step("listener", 3*time.Second, a.listener.Stop)
	}
	if a.sup != nil {
		step("supervisor", 5*time.Second, a.sup.Wait)
	}
	step("subscribers", 3*time.Second, a.store.Close)
	a.feed.Close()

	a.log.Info("stopped")
	return a.logs.Close()
}
