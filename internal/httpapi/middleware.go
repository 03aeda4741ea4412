package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	slacktr "trackbot/internal/transport/slack"
	logx "trackbot/pkg/logx"
)

// recovery turns a handler panic into a 500 and logs it.
func recovery(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("http handler panicked",
					logx.String("method", c.Request.Method),
					logx.String("path", c.Request.URL.Path),
					logx.Any("panic", r),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("route", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

const maxSlackBody = 1 << 20

// verifySlack checks the request signature and restores the body for the
// handler.
func verifySlack(secret string, log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSlackBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if err := slacktr.VerifyRequest(c.Request.Header, body, secret); err != nil {
			log.Warn("slack request rejected", logx.String("path", c.Request.URL.Path), logx.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Set("slack_body", body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
