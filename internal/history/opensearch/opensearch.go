// Package opensearch indexes history events into OpenSearch or
// Elasticsearch through the document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/agentdeck/internal/history"
)

type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	// Daily appends the event date, e.g. agent-history-2025.01.31.
	Daily   bool
	Timeout time.Duration
}

type Sink struct {
	client *http.Client
	opts   Options
}

// New is Open with only a base URL and index.
func New(baseURL, index string) *Sink {
	return Open(Options{BaseURL: baseURL, Index: index})
}

func Open(o Options) *Sink {
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Index == "" {
		o.Index = "agent-history"
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return &Sink{client: &http.Client{Timeout: o.Timeout}, opts: o}
}

func (s *Sink) index(at time.Time) string {
	if !s.opts.Daily {
		return s.opts.Index
	}
	return s.opts.Index + "-" + at.UTC().Format("2006.01.02")
}

// Send POSTs the event to <base>/<index>/_doc.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	u := s.opts.BaseURL + "/" + s.index(e.OccurredAt) + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
