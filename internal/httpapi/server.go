// Package httpapi is the HTTP front: the public status query, dashboard
// JSON, Slack slash commands and events, and a health endpoint.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trackbot/internal/eventbus"
	"trackbot/internal/notifier"
	rtsup "trackbot/internal/runtime/supervisor"
	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	"trackbot/internal/tracker"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

type Tracker interface {
	Status(ctx context.Context, identity string) (tracker.StatusView, error)
	List() []subscribers.Record
}

type Poller interface {
	LastReport() (tracker.Report, bool)
	Next() time.Time
}

// Deps are the components the server reads from. Nil members disable the
// parts of the API that need them.
type Deps struct {
	Tracker Tracker
	Poller  Poller
	Cache   interface{ Stats() submissions.Stats }
	History func() []notifier.HistoryItem
	Feed    *eventbus.Feed
	Health  func() []rtsup.LoopStats

	// Commands receives Slack commands for the router. Slack routes are
	// mounted only when SigningSecret is set.
	Commands      chan<- transport.Command
	SigningSecret string
	// Messenger posts replies to Events API messages.
	Messenger transport.Messenger
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration

	// Pprof mounts /debug/pprof, guarded by PprofToken when set.
	Pprof      bool
	PprofToken string
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *gin.Engine
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	router := gin.New()
	router.Use(recovery(log), requestLog(log))
	s := &Server{cfg: cfg, deps: deps, log: log, router: router}
	s.setupRoutes()
	return s
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth())
	if s.deps.Tracker != nil {
		s.router.GET("/status/:id", s.handleStatus())
	}

	api := s.router.Group("/api")
	{
		api.GET("/subscribers", s.handleSubscribers())
		api.GET("/events", s.handleEvents())
	}

	if s.deps.SigningSecret != "" {
		sl := s.router.Group("/slack")
		sl.Use(verifySlack(s.deps.SigningSecret, s.log))
		{
			sl.POST("/commands", s.handleSlashCommand())
			sl.POST("/events", s.handleSlackEvent())
		}
	}

	if s.cfg.Pprof {
		s.mountPprof()
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		return err
	}
	s.log.Info("http stopped")
	return nil
}
