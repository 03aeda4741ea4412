package submissions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the upstream submission list.
const DefaultURL = "https://adventure-time.hackclub.dev/api/getYSWSSubmissions"

// Source fetches the full submission list from upstream.
type Source interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Record, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]Record, error) { return f(ctx) }

// HTTPSource performs a GET on URL and decodes {"submissions": [...]}.
type HTTPSource struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: s.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream http=%d", resp.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	if doc.Submissions == nil {
		doc.Submissions = []Record{}
	}
	return doc.Submissions, nil
}
