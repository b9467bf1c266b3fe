package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/moderation"
)

// Moderator runs the publish workflow.
type Moderator interface {
	Submit(ctx context.Context, promptID, versionID uuid.UUID) (moderation.Result, error)
	Approve(ctx context.Context, versionID uuid.UUID) (moderation.Result, error)
	Reject(ctx context.Context, versionID uuid.UUID, details string) (moderation.Result, error)
}

type ModerationHandler struct {
	svc Moderator
}

func NewModerationHandler(svc Moderator) *ModerationHandler {
	return &ModerationHandler{svc: svc}
}

// Publish submits a version for moderation. The version must belong to the
// prompt in the path.
func (h *ModerationHandler) Publish(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}
	res, err := h.svc.Submit(r.Context(), promptID, id)
	h.respond(w, r, res, err)
}

func (h *ModerationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}
	res, err := h.svc.Approve(r.Context(), id)
	h.respond(w, r, res, err)
}

type rejectRequest struct {
	Details string `json:"details"`
}

func (h *ModerationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Reject(r.Context(), id, req.Details)
	h.respond(w, r, res, err)
}

func (h *ModerationHandler) respond(w http.ResponseWriter, r *http.Request, res moderation.Result, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resultStatus(res), res)
}

func resultStatus(res moderation.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.ErrorCode {
	case moderation.CodeNotFound:
		return http.StatusNotFound
	case moderation.CodeInvalidTransition, moderation.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
