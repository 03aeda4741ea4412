// Package composer produces the text of status-change notifications.
//
// The remote composer is an OpenAI-compatible chat completion endpoint. It is
// treated as unreliable: callers bound it with a timeout and fall back to
// Fallback on any error.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trackbot/internal/submissions"
)

// ErrUnavailable is returned when no text could be generated.
var ErrUnavailable = errors.New("composer unavailable")

// Request describes the transition to phrase.
type Request struct {
	New       submissions.Class
	Old       submissions.Class
	HasOld    bool
	NewStatus string
	OldStatus string
}

type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Composer.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Compose(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Disabled always fails with ErrUnavailable, so callers use Fallback.
type Disabled struct{}

func (Disabled) Compose(context.Context, Request) (string, error) { return "", ErrUnavailable }

// Fallback is the fixed per-class template used when the composer fails.
func Fallback(req Request) string {
	var b strings.Builder
	switch req.New {
	case submissions.ClassApproved:
		b.WriteString("✅ Great news! Your submission has been *Approved*.")
	case submissions.ClassDenied:
		b.WriteString("❌ Your submission was *Denied*. Check the review feedback and try again.")
	case submissions.ClassPending:
		b.WriteString("⏳ Your submission is *Pending* review.")
	default:
		b.WriteString("❔ Your submission status changed.")
	}
	if desc := submissions.Describe(req.NewStatus); req.NewStatus != "" && desc != req.New.Description() {
		fmt.Fprintf(&b, "\nCurrent status: *%s*", desc)
	}
	if req.HasOld && req.Old != req.New {
		fmt.Fprintf(&b, "\nPrevious status: %s %s", req.Old.Emoji(), req.Old.Label())
	}
	return b.String()
}
