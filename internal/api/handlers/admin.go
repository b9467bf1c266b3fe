package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nikhilbhutani/promptlib/internal/audit"
	"github.com/nikhilbhutani/promptlib/internal/models"
)

// AuditReader reads the project's audit trail and model usage.
type AuditReader interface {
	GetUsageSummary(ctx context.Context, startDate, endDate *time.Time) ([]audit.UsageSummary, error)
	GetAuditLogs(ctx context.Context, q audit.AuditQuery) ([]models.AuditLog, error)
}

type AdminHandler struct {
	auditSvc AuditReader
}

func NewAdminHandler(auditSvc AuditReader) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	var startDate, endDate *time.Time

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			startDate = &t
		}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			endDate = &t
		}
	}

	summary, err := h.auditSvc.GetUsageSummary(r.Context(), startDate, endDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.AuditQuery{
		Action: r.URL.Query().Get("action"),
	}

	q.Limit = queryInt(r, "limit", 50)
	q.Offset = queryInt(r, "offset", 0)

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			q.StartDate = &t
		}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			q.EndDate = &t
		}
	}

	logs, err := h.auditSvc.GetAuditLogs(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "count": len(logs)})
}
