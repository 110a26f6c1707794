package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/pagemark/annotation"
)

// Remote is a Backend talking to a pagemark hub over HTTP. Transport errors
// and 5xx answers are retried with exponential backoff; 401 and 403 fail
// at once with ErrUnauthorized.
type Remote struct {
	base       string
	client     *http.Client
	token      string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithToken sends token as a bearer credential.
func WithToken(token string) RemoteOption { return func(r *Remote) { r.token = token } }

// WithRetries sets the maximum number of retries. Default: 3.
func WithRetries(n int) RemoteOption { return func(r *Remote) { r.maxRetries = n } }

// WithBackoff sets the first retry delay; each retry doubles it. Default: 500ms.
func WithBackoff(d time.Duration) RemoteOption { return func(r *Remote) { r.backoff = d } }

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) RemoteOption { return func(r *Remote) { r.client = c } }

// WithRemoteLogger sets a custom logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption { return func(r *Remote) { r.logger = l } }

// NewRemote creates a Remote for the hub at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		base:       strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Remote) Load(ctx context.Context, domain string) (*annotation.Record, error) {
	var rec *annotation.Record
	err := r.do(ctx, http.MethodGet, domain, nil, func(resp *http.Response) error {
		if resp.StatusCode == http.StatusNotFound {
			rec = annotation.NewRecord(domain)
			return nil
		}
		rec = annotation.NewRecord(domain)
		if err := json.NewDecoder(resp.Body).Decode(rec); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if rec.Pages == nil {
			rec.Pages = make(map[string][]annotation.Annotation)
		}
		rec.Domain = domain
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: remote load %s: %w", domain, err)
	}
	return rec, nil
}

func (r *Remote) ReplaceAll(ctx context.Context, rec *annotation.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: remote encode %s: %w", rec.Domain, err)
	}
	if err := r.do(ctx, http.MethodPut, rec.Domain, body, nil); err != nil {
		return fmt.Errorf("store: remote replace %s: %w", rec.Domain, err)
	}
	return nil
}

// do sends one request with retries. handle reads a 2xx or 404 response.
func (r *Remote) do(ctx context.Context, method, domain string, body []byte, handle func(*http.Response) error) error {
	target := r.base + "/records/" + url.PathEscape(domain)

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff << uint(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if r.token != "" {
			req.Header.Set("Authorization", "Bearer "+r.token)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			r.logger.Warn("store: remote request failed", "method", method, "domain", domain, "attempt", attempt+1, "error", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			drain(resp)
			return ErrUnauthorized
		case resp.StatusCode >= 500:
			drain(resp)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			r.logger.Warn("store: remote bad status", "method", method, "domain", domain, "attempt", attempt+1, "status", resp.StatusCode)
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusNotFound && handle != nil:
			var herr error
			if handle != nil {
				herr = handle(resp)
			}
			drain(resp)
			return herr
		default:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			drain(resp)
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
