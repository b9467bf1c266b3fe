package queue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/nikhilbhutani/promptlib/internal/logging"
)

func TestRegistryLogsTasks(t *testing.T) {
	var buf bytes.Buffer
	reg := NewHandlersRegistry(slog.New(slog.NewTextHandler(&buf, nil)))

	reg.Register(TypeWebhookDeliver, asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		logging.FromContext(ctx).Info("delivering")
		return errors.New("endpoint down")
	}))

	err := reg.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeWebhookDeliver, nil))
	assert.EqualError(t, err, "endpoint down")
	assert.Contains(t, buf.String(), "msg=delivering task_type=webhook:deliver")
	assert.Contains(t, buf.String(), "task failed")
}
