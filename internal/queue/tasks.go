package queue

import "encoding/json"

const (
	TypeWebhookDeliver = "webhook:deliver"
)

// WebhookDeliverPayload names the subscription to notify. The worker looks up
// the URL and signing secret so neither is stored in Redis.
type WebhookDeliverPayload struct {
	WebhookID string          `json:"webhook_id"`
	ProjectID string          `json:"project_id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}
