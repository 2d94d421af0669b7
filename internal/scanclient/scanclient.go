// Package scanclient drives the hook scanner's batch endpoint from outside
// the server.
package scanclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sydlexius/coremonitor/internal/hookscan"
)

// Hook is one reported invocation. Content is HTML-escaped.
type Hook struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// FileReport holds the hooks found in one file.
type FileReport struct {
	Actions []Hook `json:"actions,omitempty"`
	Filters []Hook `json:"filters,omitempty"`
	EditURL string `json:"edit_url"`
}

// Batch is one batch response.
type Batch struct {
	ScanID         string                `json:"scan_id"`
	BatchIndex     int                   `json:"batch_index"`
	TotalBatches   int                   `json:"total_batches"`
	ProcessedFiles int                   `json:"processed_files"`
	TotalFiles     int                   `json:"total_files"`
	FoundHooks     map[string]FileReport `json:"found_hooks"`
	Completed      bool                  `json:"completed"`
}

// Report accumulates every batch of a scan.
type Report struct {
	ScanID     string                `json:"scan_id"`
	Target     string                `json:"target"`
	Type       string                `json:"type"`
	TotalFiles int                   `json:"total_files"`
	Files      map[string]FileReport `json:"files"`
}

// Extension is a scannable plugin or theme.
type Extension struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Type       string `json:"type"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client calls the coremonitor API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRate paces batch requests to at most r per second.
func WithRate(r rate.Limit) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, 1) }
}

// New creates a client for the server at baseURL (including any base path).
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Extensions lists installed extensions. An empty kind lists both.
func (c *Client) Extensions(ctx context.Context, kind string) ([]Extension, error) {
	path := "/api/v1/extensions"
	if kind != "" {
		path += "?type=" + url.QueryEscape(kind)
	}
	var out []Extension
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Batch sends one round-trip of the batch protocol.
func (c *Client) Batch(ctx context.Context, req hookscan.Request) (*Batch, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out Batch
	if err := c.do(ctx, http.MethodPost, "/api/v1/hooks/batch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan runs a whole scan of dir, one batch at a time. onBatch, if set, sees
// every batch response and may abort by returning an error. Polling stops at
// the first error; a scan cannot be resumed after UnknownScan.
func (c *Client) Scan(ctx context.Context, dir, kind string, onBatch func(*Batch) error) (*Report, error) {
	b, err := c.Batch(ctx, hookscan.Request{ScanDir: dir, ScanType: kind})
	if err != nil {
		return nil, err
	}
	report := &Report{
		ScanID:     b.ScanID,
		Target:     dir,
		Type:       kind,
		TotalFiles: b.TotalFiles,
		Files:      make(map[string]FileReport),
	}

	for {
		for path, fr := range b.FoundHooks {
			report.Files[path] = fr
		}
		if onBatch != nil {
			if err := onBatch(b); err != nil {
				return report, err
			}
		}
		if b.Completed {
			return report, nil
		}
		b, err = c.Batch(ctx, hookscan.Request{
			ScanID:         report.ScanID,
			BatchIndex:     new(b.BatchIndex + 1),
			ProcessedFiles: b.ProcessedFiles,
			TotalFiles:     b.TotalFiles,
		})
		if err != nil {
			return report, err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
