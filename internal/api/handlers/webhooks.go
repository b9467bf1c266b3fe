package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/webhook"
)

type WebhookStore interface {
	Create(ctx context.Context, req webhook.CreateRequest) (*models.Webhook, error)
	List(ctx context.Context) ([]models.Webhook, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type WebhookHandler struct {
	svc WebhookStore
}

func NewWebhookHandler(svc WebhookStore) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhook.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := req.Validate(); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	wh, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The secret is only ever returned here.
	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"webhooks": webhooks, "count": len(webhooks)})
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
