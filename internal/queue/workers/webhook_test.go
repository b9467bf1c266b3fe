package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/queue"
	"github.com/nikhilbhutani/promptlib/internal/webhook"
)

type noEndpoints struct{}

func (noEndpoints) Endpoint(context.Context, uuid.UUID) (*models.Webhook, error) {
	return nil, webhook.ErrNotFound
}

func (noEndpoints) RecordDelivery(context.Context, models.WebhookDelivery) error { return nil }

func TestWebhookWorkerSkipsRetry(t *testing.T) {
	w := NewWebhookWorker(webhook.NewDeliverer(noEndpoints{}, time.Second, 1))

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeWebhookDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	data, err := json.Marshal(queue.WebhookDeliverPayload{
		WebhookID: uuid.NewString(),
		Event:     string(models.EventModerationApprove),
		Payload:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	err = w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeWebhookDeliver, data))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, webhook.ErrNotFound)
}
