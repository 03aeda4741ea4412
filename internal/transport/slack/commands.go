package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"trackbot/internal/transport"
)

// ErrBadSignature is returned when a request fails signing-secret verification.
var ErrBadSignature = errors.New("slack: invalid request signature")

// VerifyRequest checks the X-Slack-Signature of body against secret.
func VerifyRequest(h http.Header, body []byte, secret string) error {
	sv, err := slackgo.NewSecretsVerifier(h, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// CommandFromSlash maps a slash command to a command. The invoking Slack
// user is the subscriber identity and their DM is the notification target.
// The reply is sent ephemerally through the command's response_url.
func CommandFromSlash(s slackgo.SlashCommand) (transport.Command, bool) {
	kind, args, ok := transport.ParseCommand(strings.TrimSpace(s.Command + " " + s.Text))
	if !ok || s.UserID == "" {
		return transport.Command{}, false
	}
	cmd := transport.Command{
		Kind:     kind,
		Platform: Platform,
		Identity: s.UserID,
		Target:   s.UserID,
		UserID:   s.UserID,
		Args:     args,
	}
	if url := s.ResponseURL; url != "" {
		cmd.Reply = func(ctx context.Context, text string) error {
			return slackgo.PostWebhookContext(ctx, url, &slackgo.WebhookMessage{Text: text, ResponseType: "ephemeral"})
		}
	}
	return cmd, true
}

// Event is the outcome of parsing an Events API callback.
type Event struct {
	// Challenge is set for url_verification requests and must be echoed back.
	Challenge string
	// Command is set when a user message asked to track status.
	Command *transport.Command
}

// ParseEvent decodes an Events API body. Messages containing "track status"
// become a track command for their author; the reply goes to the channel
// the message was posted in.
func ParseEvent(body []byte, m transport.Messenger) (Event, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Event{}, err
	}
	switch ev.Type {
	case slackevents.URLVerification:
		var ch struct {
			Challenge string `json:"challenge"`
		}
		if err := json.Unmarshal(body, &ch); err != nil {
			return Event{}, err
		}
		return Event{Challenge: ch.Challenge}, nil
	case slackevents.CallbackEvent:
		msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || msg.BotID != "" || msg.SubType != "" || msg.User == "" {
			return Event{}, nil
		}
		if !strings.Contains(strings.ToLower(msg.Text), "track status") {
			return Event{}, nil
		}
		cmd := transport.Command{
			Kind:     transport.CommandTrack,
			Platform: Platform,
			Identity: msg.User,
			Target:   msg.User,
			UserID:   msg.User,
		}
		if m != nil {
			channel := msg.Channel
			cmd.Reply = func(ctx context.Context, text string) error {
				_, err := m.PostMessage(ctx, channel, text)
				return err
			}
		}
		return Event{Command: &cmd}, nil
	}
	return Event{}, nil
}
