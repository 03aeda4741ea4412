package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"trackbot/internal/transport"
	logx "trackbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, cmd *transport.Command) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *transport.Command) (string, error) {
			if d <= 0 {
				return next(ctx, cmd)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, cmd)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *transport.Command) (text string, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.String("cmd", string(cmd.Kind)),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					text, err = msgFailed, fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, cmd)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *transport.Command) (string, error) {
			start := time.Now()
			text, err := next(ctx, cmd)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("platform", cmd.Platform),
				logx.String("cmd", string(cmd.Kind)),
				logx.String("user", cmd.UserID),
				logx.String("identity", cmd.Identity),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				log.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				// Keep INFO useful: short successful commands go to DEBUG.
				log.Info("command ok", fields...)
			default:
				log.Debug("command ok", fields...)
			}
			return text, err
		}
	}
}
