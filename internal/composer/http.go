package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You write short, friendly chat notifications (at most two sentences, one emoji) " +
	"telling a participant that the review status of their project submission changed. " +
	"Do not invent details that are not given."

// Config for the HTTP composer.
type Config struct {
	URL       string
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// HTTP calls an OpenAI-compatible /chat/completions endpoint.
type HTTP struct {
	cfg    Config
	client *http.Client
}

func NewHTTP(cfg Config) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 120
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model,omitempty"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New status: %s (%s).", req.New.Label(), req.NewStatus)
	if req.HasOld {
		fmt.Fprintf(&b, " Previous status: %s (%s).", req.Old.Label(), req.OldStatus)
	}
	return b.String()
}

func (h *HTTP) Compose(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(h.cfg.URL) == "" {
		return "", ErrUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: h.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		MaxTokens: h.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(cctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: http=%d", ErrUnavailable, resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrUnavailable)
	}
	return text, nil
}
