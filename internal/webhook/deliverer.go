package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/queue"
)

// Endpoints resolves delivery targets and records delivery outcomes.
type Endpoints interface {
	Endpoint(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	RecordDelivery(ctx context.Context, d models.WebhookDelivery) error
}

// Deliverer POSTs signed event payloads to subscriber URLs.
type Deliverer struct {
	endpoints   Endpoints
	httpClient  *http.Client
	maxAttempts uint
	delay       time.Duration
}

type DelivererOption func(*Deliverer)

// WithRetryDelay sets the base backoff between delivery attempts.
func WithRetryDelay(d time.Duration) DelivererOption {
	return func(dl *Deliverer) { dl.delay = d }
}

func WithHTTPClient(c *http.Client) DelivererOption {
	return func(dl *Deliverer) { dl.httpClient = c }
}

func NewDeliverer(endpoints Endpoints, timeout time.Duration, maxAttempts int, opts ...DelivererOption) *Deliverer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	d := &Deliverer{
		endpoints:   endpoints,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: uint(maxAttempts),
		delay:       500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends one queued event. Client errors other than 429 are not
// retried. The outcome is recorded whether or not delivery succeeded.
func (d *Deliverer) Deliver(ctx context.Context, p queue.WebhookDeliverPayload) error {
	webhookID, err := uuid.Parse(p.WebhookID)
	if err != nil {
		return fmt.Errorf("parse webhook ID: %w", err)
	}

	wh, err := d.endpoints.Endpoint(ctx, webhookID)
	if err != nil {
		return fmt.Errorf("load webhook %s: %w", webhookID, err)
	}

	signature := Sign(p.Payload, wh.Secret)
	var (
		attempts int
		status   int
	)

	err = retry.Do(
		func() error {
			attempts++
			var postErr error
			status, postErr = d.post(ctx, wh, p, signature)
			if postErr != nil {
				return postErr
			}
			switch {
			case status < 300:
				return nil
			case status == http.StatusTooManyRequests || status >= 500:
				return fmt.Errorf("webhook responded %d", status)
			default:
				return retry.Unrecoverable(fmt.Errorf("webhook responded %d", status))
			}
		},
		retry.Context(ctx),
		retry.Attempts(d.maxAttempts),
		retry.Delay(d.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying webhook delivery", "webhook_id", wh.ID, "attempt", n+1, "error", err)
		}),
	)

	record := models.WebhookDelivery{
		WebhookID:      wh.ID,
		Event:          p.Event,
		Payload:        p.Payload,
		ResponseStatus: status,
		Attempts:       attempts,
	}
	if err == nil {
		now := time.Now()
		record.DeliveredAt = &now
	}
	if recErr := d.endpoints.RecordDelivery(ctx, record); recErr != nil {
		slog.Error("failed to record webhook delivery", "webhook_id", wh.ID, "error", recErr)
	}

	if err != nil {
		slog.Warn("webhook delivery failed", "webhook_id", wh.ID, "event", p.Event, "attempts", attempts, "error", err)
		return fmt.Errorf("deliver %s to webhook %s: %w", p.Event, wh.ID, err)
	}
	slog.Info("webhook delivered", "webhook_id", wh.ID, "event", p.Event, "status", status)
	return nil
}

func (d *Deliverer) post(ctx context.Context, wh *models.Webhook, p queue.WebhookDeliverPayload, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(p.Payload))
	if err != nil {
		return 0, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", p.Event)
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-ID", wh.ID.String())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Sign returns the X-Webhook-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// Verify reports whether signature matches payload under secret.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
