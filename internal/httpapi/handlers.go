package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	slackgo "github.com/slack-go/slack"

	"trackbot/internal/submissions"
	"trackbot/internal/tracker"
	"trackbot/internal/transport"
	slacktr "trackbot/internal/transport/slack"
	logx "trackbot/pkg/logx"
)

// handleStatus answers a status query without subscribing.
func (s *Server) handleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := s.deps.Tracker.Status(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{
				"status":      v.Status,
				"class":       v.Class,
				"label":       v.Label,
				"emoji":       v.Emoji,
				"description": v.Description,
				"tracked":     v.Tracked,
			})
		case errors.Is(err, submissions.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		case errors.Is(err, tracker.ErrEmptyIdentity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		default:
			s.log.Warn("status query failed", logx.String("identity", c.Param("id")), logx.Err(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch submissions"})
		}
	}
}

type subscriberRow struct {
	Identity    string    `json:"identity"`
	Target      string    `json:"target"`
	LastStatus  string    `json:"last_status"`
	Class       string    `json:"class"`
	Label       string    `json:"label"`
	Emoji       string    `json:"emoji"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *Server) handleSubscribers() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{}
		if s.deps.Tracker != nil {
			recs := s.deps.Tracker.List()
			rows := make([]subscriberRow, 0, len(recs))
			for _, r := range recs {
				v := tracker.NewStatusView(r.Identity, r.LastStatus)
				rows = append(rows, subscriberRow{
					Identity:    r.Identity,
					Target:      r.Target,
					LastStatus:  r.LastStatus,
					Class:       v.Class,
					Label:       v.Label,
					Emoji:       v.Emoji,
					LastUpdated: r.LastUpdated,
				})
			}
			resp["subscribers"] = rows
			resp["count"] = len(rows)
		}
		if s.deps.Poller != nil {
			if rep, ok := s.deps.Poller.LastReport(); ok {
				resp["last_report"] = rep
			}
			if next := s.deps.Poller.Next(); !next.IsZero() {
				resp["next_poll"] = next
			}
		}
		if s.deps.Cache != nil {
			resp["cache"] = s.deps.Cache.Stats()
		}
		if s.deps.History != nil {
			resp["history"] = s.deps.History()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Feed == nil {
			c.JSON(http.StatusOK, gin.H{"events": []any{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": s.deps.Feed.Recent()})
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{"status": "ok"}
		if s.deps.Health != nil {
			loops := s.deps.Health()
			resp["loops"] = loops
			for _, l := range loops {
				if !l.Running && l.LastErr != "" {
					resp["status"] = "degraded"
				}
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

const (
	slackUnknown = "Unknown command. Try /track, /status, /untrack or /list."
	slackBusy    = "⚠️ Something went wrong. Please try again later."
)

func ephemeral(c *gin.Context, text string) {
	c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": text})
}

// handleSlashCommand acknowledges the command right away; the router
// answers through the command's response_url.
func (s *Server) handleSlashCommand() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, err := slackgo.SlashCommandParse(c.Request)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slash command"})
			return
		}
		cmd, ok := slacktr.CommandFromSlash(sc)
		if !ok {
			ephemeral(c, slackUnknown)
			return
		}
		if !s.enqueue(cmd) {
			ephemeral(c, slackBusy)
			return
		}
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleSlackEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		body := c.MustGet("slack_body").([]byte)
		ev, err := slacktr.ParseEvent(body, s.deps.Messenger)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
			return
		}
		if ev.Challenge != "" {
			c.JSON(http.StatusOK, gin.H{"challenge": ev.Challenge})
			return
		}
		if ev.Command != nil && !s.enqueue(*ev.Command) {
			s.log.Warn("slack event dropped (command queue full)", logx.String("user", ev.Command.UserID))
		}
		c.Status(http.StatusOK)
	}
}

func (s *Server) enqueue(cmd transport.Command) bool {
	if s.deps.Commands == nil {
		return false
	}
	select {
	case s.deps.Commands <- cmd:
		return true
	default:
		return false
	}
}
