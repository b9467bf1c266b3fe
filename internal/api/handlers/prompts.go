package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/audit"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
)

// PromptStore is the subset of prompt.Service the prompt routes use.
type PromptStore interface {
	Create(ctx context.Context, req prompt.CreateRequest) (*models.Prompt, *models.PromptVersion, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, []models.PromptVersion, error)
	List(ctx context.Context, q prompt.ListQuery) ([]models.Prompt, error)
	CreateVersion(ctx context.Context, promptID uuid.UUID, in prompt.VersionInput) (*models.PromptVersion, error)
	GetPromptVersion(ctx context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error)
	CreateVariables(ctx context.Context, promptID, versionID uuid.UUID, vars []prompt.Variable) ([]models.PromptVariable, error)
	PromptTags(ctx context.Context, promptID uuid.UUID) ([]models.PromptTag, error)
	RankedTags(ctx context.Context, topN int) ([]models.RankedTag, error)
	AuthorStats(ctx context.Context, authorID uuid.UUID) (*models.AuthorStats, error)
}

// Auditor records write actions.
type Auditor interface {
	Log(ctx context.Context, entry audit.LogEntry) error
}

// UserDirectory resolves version authors.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type PromptHandler struct {
	svc     PromptStore
	users   UserDirectory
	auditor Auditor
}

// NewPromptHandler wires the prompt routes. users and auditor may be nil.
func NewPromptHandler(svc PromptStore, users UserDirectory, auditor Auditor) *PromptHandler {
	return &PromptHandler{svc: svc, users: users, auditor: auditor}
}

func (h *PromptHandler) audit(r *http.Request, action, resourceType string, id uuid.UUID, details map[string]any) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.Log(r.Context(), audit.LogEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   &id,
		Details:      details,
		IPAddress:    r.RemoteAddr,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("failed to write audit log", "action", action, "error", err)
	}
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req prompt.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeMessage(w, http.StatusBadRequest, "name required")
		return
	}
	if err := req.Version.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	p, v, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.audit(r, audit.ActionPromptCreate, "prompt", p.ID, map[string]any{"name": p.Name})
	writeJSON(w, http.StatusCreated, map[string]any{"prompt": p, "version": v})
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	q := prompt.ListQuery{
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
		Tag:    r.URL.Query().Get("tag"),
	}

	prompts, err := h.svc.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts, "count": len(prompts)})
}

func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	p, versions, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompt": p, "versions": versions})
}

func (h *PromptHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var in prompt.VersionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.svc.CreateVersion(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit(r, audit.ActionVersionCreate, "prompt_version", v.ID, map[string]any{"prompt_id": id, "version": v.Version})

	writeJSON(w, http.StatusCreated, v)
}

// GetVersion returns a version with its relations and, when it can be
// resolved, its author.
func (h *PromptHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	v, err := h.svc.GetPromptVersion(r.Context(), promptID, versionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := map[string]any{"version": v}
	if h.users != nil {
		author, err := h.users.GetUserByID(r.Context(), v.AuthorID)
		switch {
		case err == nil:
			resp["author"] = author.Author()
		case !errors.Is(err, project.ErrNotFound):
			logging.FromContext(r.Context()).Warn("author lookup failed", "author_id", v.AuthorID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type createVariablesRequest struct {
	Variables []prompt.Variable `json:"variables"`
}

func (h *PromptHandler) CreateVariables(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	var req createVariablesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Variables) == 0 {
		writeMessage(w, http.StatusBadRequest, "variables required")
		return
	}
	if err := (prompt.VersionInput{Variables: req.Variables}).Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	vars, err := h.svc.CreateVariables(r.Context(), promptID, versionID, req.Variables)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"variables": vars})
}

func (h *PromptHandler) Tags(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	tags, err := h.svc.PromptTags(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// RankedTags lists the project's tags ordered by how many prompts use them.
func (h *PromptHandler) RankedTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.RankedTags(r.Context(), queryInt(r, "top", 20))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (h *PromptHandler) AuthorStats(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "authorID")
	if !ok {
		return
	}

	stats, err := h.svc.AuthorStats(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}
