package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by WebhookPublisher.Publish when the delivery
// queue has no room. The event is dropped.
var ErrQueueFull = errors.New("webhook queue full")

// SignPayload returns the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is SignPayload(payload, secret).
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookPublisher POSTs signed events to one endpoint from a background
// worker, so a slow receiver never delays a booking.
type WebhookPublisher struct {
	url         string
	secret      string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	queue       chan Event
	logger      zerolog.Logger
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type WebhookOption func(*WebhookPublisher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(p *WebhookPublisher) { p.httpClient = c }
}

// WithRetries sets the number of attempts per event and the delay between them.
func WithRetries(attempts int, delay time.Duration) WebhookOption {
	return func(p *WebhookPublisher) {
		p.maxAttempts = attempts
		p.retryDelay = delay
	}
}

// WithQueueSize sets how many undelivered events are buffered.
func WithQueueSize(n int) WebhookOption {
	return func(p *WebhookPublisher) { p.queue = make(chan Event, n) }
}

func NewWebhookPublisher(rawURL, secret string, logger zerolog.Logger, opts ...WebhookOption) (*WebhookPublisher, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	p := &WebhookPublisher{
		url:         rawURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		retryDelay:  time.Second,
		queue:       make(chan Event, 1024),
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	return p, nil
}

func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Publish queues ev for delivery.
func (p *WebhookPublisher) Publish(_ context.Context, ev Event) error {
	select {
	case p.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the delivery worker until ctx is done or Close is called.
func (p *WebhookPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-p.queue:
				if !ok {
					return
				}
				if err := p.deliver(ctx, ev); err != nil {
					p.logger.Warn().Err(err).Str("event", ev.Type).Str("booking_id", ev.BookingID).Msg("webhook delivery failed")
				}
			}
		}
	}()
}

// Close stops accepting events, delivers what is queued and waits for the
// worker. Publish must not be called after Close.
func (p *WebhookPublisher) Close() {
	p.closeOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

func (p *WebhookPublisher) deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	id := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
		lastErr = p.post(ctx, id, attempt, payload)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *WebhookPublisher) post(ctx context.Context, id string, attempt int, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", id)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprint(attempt))
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if p.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, p.secret))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
