package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/queue"
)

var ErrNotFound = errors.New("webhook not found")

// Enqueuer schedules a delivery for the background worker.
type Enqueuer interface {
	EnqueueWebhookDeliver(payload queue.WebhookDeliverPayload) error
}

type Service struct {
	db       *pgxpool.Pool
	enqueuer Enqueuer
}

func NewService(db *pgxpool.Pool, enqueuer Enqueuer) *Service {
	return &Service{db: db, enqueuer: enqueuer}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (r CreateRequest) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(r.Events) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	for _, e := range r.Events {
		if !models.NotificationEvent(e).Valid() {
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Webhook, error) {
	projectID := project.IDFromContext(ctx)

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		return nil, fmt.Errorf("marshal events: %w", err)
	}

	var wh models.Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (project_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING id, project_id, url, events, is_active, created_at`,
		projectID, req.URL, eventsJSON, secret,
	).Scan(&wh.ID, &wh.ProjectID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	// Return secret only on creation
	wh.Secret = secret

	return &wh, nil
}

func (s *Service) List(ctx context.Context) ([]models.Webhook, error) {
	projectID := project.IDFromContext(ctx)

	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, url, events, is_active, created_at
		 FROM webhooks WHERE project_id = $1 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []models.Webhook{}
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.ProjectID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	projectID := project.IDFromContext(ctx)
	tag, err := s.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1 AND project_id = $2", id, projectID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Dispatch schedules one delivery of event to every active webhook of the
// current project subscribed to it.
func (s *Service) Dispatch(ctx context.Context, event models.NotificationEvent, payload any) error {
	projectID := project.IDFromContext(ctx)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	eventJSON, err := json.Marshal([]string{string(event)})
	if err != nil {
		return fmt.Errorf("marshal event filter: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id FROM webhooks
		 WHERE project_id = $1 AND is_active = true AND events @> $2::jsonb`,
		projectID, eventJSON,
	)
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("scan matching webhooks: %w", err)
	}

	var errs []error
	for _, id := range ids {
		err := s.enqueuer.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{
			WebhookID: id.String(),
			ProjectID: projectID.String(),
			Event:     string(event),
			Payload:   payloadJSON,
		})
		if err != nil {
			slog.Error("failed to enqueue webhook delivery", "webhook_id", id, "event", event, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Endpoint returns an active webhook including its signing secret.
func (s *Service) Endpoint(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var wh models.Webhook
	err := s.db.QueryRow(ctx,
		`SELECT id, project_id, url, events, secret, is_active, created_at
		 FROM webhooks WHERE id = $1 AND is_active = true`, id,
	).Scan(&wh.ID, &wh.ProjectID, &wh.URL, &wh.Events, &wh.Secret, &wh.IsActive, &wh.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return &wh, nil
}

func (s *Service) RecordDelivery(ctx context.Context, d models.WebhookDelivery) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.WebhookID, d.Event, d.Payload, d.ResponseStatus, d.Attempts, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
