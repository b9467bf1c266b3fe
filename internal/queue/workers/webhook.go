package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/promptlib/internal/queue"
	"github.com/nikhilbhutani/promptlib/internal/webhook"
)

type WebhookWorker struct {
	deliverer *webhook.Deliverer
}

func NewWebhookWorker(d *webhook.Deliverer) *WebhookWorker {
	return &WebhookWorker{deliverer: d}
}

// ProcessTask delivers one event. A deleted or disabled webhook is dropped
// rather than retried.
func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	err := w.deliverer.Deliver(ctx, payload)
	if errors.Is(err, webhook.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
