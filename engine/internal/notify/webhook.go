package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Webhook delivers each event as one JSON POST to a review endpoint.
// Transport failures and 5xx answers are redelivered with doubling delays;
// a 4xx answer means the endpoint refused the event and ends delivery.
type Webhook struct {
	endpoint   string
	client     *http.Client
	redelivery int
	firstDelay time.Duration
	bearer     string
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many redeliveries follow the first attempt.
// Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.redelivery = n }
}

// WithWebhookBackoff sets the delay before the first redelivery. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.firstDelay = d }
}

// WithWebhookToken authenticates deliveries with a bearer token.
func WithWebhookToken(token string) WebhookOption {
	return func(w *Webhook) { w.bearer = token }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook returns a sink delivering to endpoint.
func NewWebhook(endpoint string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: 10 * time.Second},
		redelivery: 3,
		firstDelay: time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// errRefused marks an answer that redelivery cannot fix.
var errRefused = errors.New("event refused")

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(wrap(ev))
	if err != nil {
		return fmt.Errorf("notify: webhook: encode %s: %w", ev.ID, err)
	}

	var last error
	for attempt := 0; attempt <= w.redelivery; attempt++ {
		if attempt > 0 {
			if err := w.pause(ctx, attempt); err != nil {
				return err
			}
		}
		last = w.deliver(ctx, body)
		if last == nil {
			return nil
		}
		if errors.Is(last, errRefused) {
			break
		}
		w.logger.Warn("notify: webhook delivery failed",
			"event", ev.ID, "annotation", ev.AnnotationID, "attempt", attempt+1, "error", last)
	}
	return fmt.Errorf("notify: webhook: deliver %s: %w", ev.ID, last)
}

// pause waits before redelivery n: firstDelay, then doubled each time.
func (w *Webhook) pause(ctx context.Context, n int) error {
	t := time.NewTimer(w.firstDelay << uint(n-1))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Webhook) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errRefused, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+w.bearer)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode < 500:
		return fmt.Errorf("%w: endpoint answered %d", errRefused, resp.StatusCode)
	default:
		return fmt.Errorf("endpoint answered %d", resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
