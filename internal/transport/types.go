package transport

import (
	"context"
	"strings"
	"time"
)

// MessageRef identifies a posted message within a channel.
type MessageRef struct {
	Target string
	ID     string
}

// Message is an entry of a channel's recent history.
type Message struct {
	ID     string
	Author string
	Text   string
	At     time.Time
}

// Messenger is the outbound surface of a chat platform.
// Every call is network I/O and may fail independently.
type Messenger interface {
	PostMessage(ctx context.Context, target, text string) (MessageRef, error)
	DeleteMessage(ctx context.Context, target, id string) error
	ListRecentMessages(ctx context.Context, target string, limit int) ([]Message, error)
	SelfIdentity(ctx context.Context) (string, error)
}

type CommandKind string

const (
	CommandTrack   CommandKind = "track"
	CommandUntrack CommandKind = "untrack"
	CommandStatus  CommandKind = "status"
	CommandList    CommandKind = "list"
	CommandHelp    CommandKind = "help"
)

// Replier answers the user who issued a command.
type Replier func(ctx context.Context, text string) error

// Command is a user gesture translated into a core operation.
type Command struct {
	Kind     CommandKind
	Platform string

	// Identity is the subscriber identity the command applies to.
	Identity string
	// Target is where status notifications for Identity are delivered.
	Target string
	UserID string
	Args   []string

	Reply Replier
}

// Listener is implemented by messengers that receive commands in-process
// (e.g. Telegram long polling). Slack commands arrive over HTTP instead.
type Listener interface {
	Start(ctx context.Context, out chan<- Command) error
	Stop(ctx context.Context) error
}

// ParseCommand maps raw chat text to a command.
//
// Accepted forms: "/track", "/track@botname arg", "track status" (plain message).
func ParseCommand(text string) (CommandKind, []string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, false
	}
	if strings.EqualFold(text, "track status") {
		return CommandTrack, nil, true
	}
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text[1:])
	if len(parts) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(parts[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := parts[1:]
	switch CommandKind(name) {
	case CommandTrack, CommandUntrack, CommandStatus, CommandList, CommandHelp:
		return CommandKind(name), args, true
	case "start":
		return CommandHelp, args, true
	default:
		return "", nil, false
	}
}
