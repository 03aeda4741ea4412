// Package router maps chat commands to tracker operations and phrases the
// replies. Every platform (Telegram listener, Slack slash commands) goes
// through the same Router.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trackbot/internal/submissions"
	"trackbot/internal/subscribers"
	"trackbot/internal/tracker"
	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

// Tracker is the set of operations commands can reach. *tracker.Service
// implements it.
type Tracker interface {
	Track(ctx context.Context, identity, target string) (subscribers.Record, error)
	Untrack(ctx context.Context, identity, target string) (bool, error)
	Status(ctx context.Context, identity string) (tracker.StatusView, error)
	List() []subscribers.Record
}

// Replies.
const (
	msgTracked      = "✅ Now tracking your submission status! Current status: *%s*\nI'll notify you every time it changes."
	msgNotFound     = "❌ Could not find your submission. Make sure you have submitted to YSWS."
	msgUnavailable  = "⚠️ Could not fetch submissions right now. Please try again in a few minutes."
	msgStatus       = "📊 Your current submission status: *%s*"
	msgUntracked    = "🔕 Stopped tracking your submission status."
	msgNotTracked   = "❌ You are not currently being tracked."
	msgOwnedByOther = "❌ That submission is already being tracked from another chat."
	msgListHeader   = "📋 Currently tracking %d user(s):\n"
	msgListEmpty    = "📋 No users are currently being tracked."
	msgNeedIdentity = "Usage: /%s <your submission id>"
	msgFailed       = "⚠️ Something went wrong. Please try again later."
	msgHelp         = "I notify you when the review status of your submission changes.\n" +
		"/track – start tracking your submission\n" +
		"/status – show your current status\n" +
		"/untrack – stop tracking\n" +
		"/list – show everyone being tracked"
)

type Router struct {
	log     logx.Logger
	trk     Tracker
	handler HandlerFunc
	wg      sync.WaitGroup
}

// New builds a router with panic recovery, request logging and a
// per-command timeout (default 20s).
func New(trk Tracker, log logx.Logger, timeout time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	r := &Router{log: log, trk: trk}
	r.handler = Chain(r.dispatch,
		MWPanicRecover(log),
		MWRequestLog(log),
		MWTimeout(timeout),
	)
	return r
}

// Handle runs cmd and returns the reply text. The reply is always set, also
// when err is non-nil.
func (r *Router) Handle(ctx context.Context, cmd transport.Command) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	text, err := r.handler(ctx, &cmd)
	if text == "" && err != nil {
		text = msgFailed
	}
	return text, err
}

// Serve handles commands from in until ctx ends or in is closed, replying
// through each command's Replier. Commands are handled concurrently.
func (r *Router) Serve(ctx context.Context, in <-chan transport.Command) error {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				text, _ := r.Handle(ctx, cmd)
				if cmd.Reply == nil || text == "" {
					return
				}
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := cmd.Reply(rctx, text); err != nil {
					r.log.Warn("reply failed", logx.String("platform", cmd.Platform), logx.String("user", cmd.UserID), logx.Err(err))
				}
			}()
		}
	}
}

func (r *Router) dispatch(ctx context.Context, cmd *transport.Command) (string, error) {
	switch cmd.Kind {
	case transport.CommandTrack:
		return r.track(ctx, cmd)
	case transport.CommandUntrack:
		return r.untrack(ctx, cmd)
	case transport.CommandStatus:
		return r.status(ctx, cmd)
	case transport.CommandList:
		return r.list(cmd), nil
	case transport.CommandHelp:
		return msgHelp, nil
	default:
		return msgHelp, fmt.Errorf("unknown command %q", cmd.Kind)
	}
}

func (r *Router) track(ctx context.Context, cmd *transport.Command) (string, error) {
	if cmd.Identity == "" {
		return fmt.Sprintf(msgNeedIdentity, cmd.Kind), nil
	}
	rec, err := r.trk.Track(ctx, cmd.Identity, cmd.Target)
	if err != nil {
		return lookupFailure(err)
	}
	return fmt.Sprintf(msgTracked, rec.LastStatus), nil
}

func (r *Router) untrack(ctx context.Context, cmd *transport.Command) (string, error) {
	if cmd.Identity == "" {
		return fmt.Sprintf(msgNeedIdentity, cmd.Kind), nil
	}
	ok, err := r.trk.Untrack(ctx, cmd.Identity, cmd.Target)
	if errors.Is(err, subscribers.ErrTargetMismatch) {
		return msgOwnedByOther, nil
	}
	if err != nil {
		return msgFailed, err
	}
	if !ok {
		return msgNotTracked, nil
	}
	return msgUntracked, nil
}

func (r *Router) status(ctx context.Context, cmd *transport.Command) (string, error) {
	if cmd.Identity == "" {
		return fmt.Sprintf(msgNeedIdentity, cmd.Kind), nil
	}
	v, err := r.trk.Status(ctx, cmd.Identity)
	if err != nil {
		return lookupFailure(err)
	}
	return fmt.Sprintf(msgStatus, v.Status), nil
}

func (r *Router) list(cmd *transport.Command) string {
	recs := r.trk.List()
	if len(recs) == 0 {
		return msgListEmpty
	}
	var b strings.Builder
	fmt.Fprintf(&b, msgListHeader, len(recs))
	for i, rec := range recs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s: %s", mention(cmd.Platform, rec.Identity), rec.LastStatus)
	}
	return b.String()
}

// lookupFailure phrases a status lookup error without exposing internals.
func lookupFailure(err error) (string, error) {
	switch {
	case errors.Is(err, submissions.ErrNotFound):
		return msgNotFound, nil
	case errors.Is(err, subscribers.ErrTargetMismatch):
		return msgOwnedByOther, nil
	case errors.Is(err, submissions.ErrUpstreamUnavailable):
		return msgUnavailable, nil
	default:
		return msgFailed, err
	}
}

func mention(platform, identity string) string {
	if platform == "slack" {
		return "<@" + identity + ">"
	}
	return identity
}
