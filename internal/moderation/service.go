// Package moderation moves prompt versions through the publish workflow and
// notifies subscribers of each step.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/audit"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
)

// Error codes reported in Result.ErrorCode.
const (
	CodeNotFound          = "not_found"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidTransition = "invalid_transition"
	CodeDetailsRequired   = "details_required"
	CodeConflict          = "conflict"
)

type Store interface {
	GetVersion(ctx context.Context, projectID, versionID uuid.UUID, opts prompt.LoadOptions) (*models.PromptVersion, error)
	SetStatus(ctx context.Context, versionID uuid.UUID, from, to models.PublishStatus, details *string) (*models.PromptVersion, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, event models.NotificationEvent, payload any) error
}

type Auditor interface {
	Log(ctx context.Context, entry audit.LogEntry) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, projectID, versionID uuid.UUID) error
}

// Result reports the outcome of a status change. Exactly one of Result and
// Error is set.
type Result struct {
	OK        bool                  `json:"ok"`
	Result    *models.PromptVersion `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorCode string                `json:"error_code,omitempty"`
}

func failure(code, format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...), ErrorCode: code}
}

// Event is the body delivered to webhook subscribers.
type Event struct {
	Event           models.NotificationEvent `json:"event"`
	PromptID        uuid.UUID                `json:"prompt_id"`
	PromptVersionID uuid.UUID                `json:"prompt_version_id"`
	Version         int                      `json:"version"`
	Status          models.PublishStatus     `json:"status"`
	Details         *string                  `json:"details,omitempty"`
	OccurredAt      time.Time                `json:"occurred_at"`
}

type Service struct {
	store       Store
	notifier    Notifier
	auditor     Auditor
	invalidator Invalidator
}

// NewService wires the moderation workflow. notifier, auditor and invalidator
// may be nil.
func NewService(store Store, notifier Notifier, auditor Auditor, invalidator Invalidator) *Service {
	return &Service{store: store, notifier: notifier, auditor: auditor, invalidator: invalidator}
}

// SetVersionStatus moves a version of the current project to status. An empty
// event selects the default notification for status. Rejection requires
// details; other statuses clear them.
func (s *Service) SetVersionStatus(ctx context.Context, versionID uuid.UUID, status models.PublishStatus, event models.NotificationEvent, details string) (Result, error) {
	return s.setStatus(ctx, uuid.Nil, versionID, status, event, details)
}

// setStatus applies a transition. A non-nil promptID must own the version;
// a mismatch is reported as not found.
func (s *Service) setStatus(ctx context.Context, promptID, versionID uuid.UUID, status models.PublishStatus, event models.NotificationEvent, details string) (Result, error) {
	if !status.Valid() {
		return failure(CodeInvalidStatus, "unknown status %q", status), nil
	}

	var detailsPtr *string
	if status == models.StatusRejected {
		details = strings.TrimSpace(details)
		if details == "" {
			return failure(CodeDetailsRequired, "rejection details are required"), nil
		}
		detailsPtr = &details
	}

	projectID := project.IDFromContext(ctx)
	current, err := s.store.GetVersion(ctx, projectID, versionID, prompt.LoadOptions{})
	if errors.Is(err, prompt.ErrNotFound) {
		return failure(CodeNotFound, "prompt version %s not found", versionID), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load prompt version: %w", err)
	}
	if promptID != uuid.Nil && current.PromptID != promptID {
		return failure(CodeNotFound, "prompt version %s not found for prompt %s", versionID, promptID), nil
	}

	if !CanTransition(current.Status, status) {
		return failure(CodeInvalidTransition, "cannot move version from %s to %s", current.Status, status), nil
	}

	updated, err := s.store.SetStatus(ctx, versionID, current.Status, status, detailsPtr)
	if errors.Is(err, prompt.ErrStatusChanged) {
		return failure(CodeConflict, "prompt version status changed, retry"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("set prompt version status: %w", err)
	}

	log := logging.FromContext(ctx).With("prompt_version_id", versionID, "from", current.Status, "to", status)
	log.Info("prompt version status changed")

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, projectID, versionID); err != nil {
			log.Warn("failed to invalidate cached version", "error", err)
		}
	}

	if s.auditor != nil {
		err := s.auditor.Log(ctx, audit.LogEntry{
			Action:       audit.ActionVersionStatus,
			ResourceType: "prompt_version",
			ResourceID:   &versionID,
			Details: map[string]any{
				"from":    current.Status,
				"to":      status,
				"details": detailsPtr,
			},
		})
		if err != nil {
			log.Warn("failed to write audit log", "error", err)
		}
	}

	if event == "" {
		event, _ = EventFor(status)
	}
	if s.notifier != nil && event != "" {
		err := s.notifier.Dispatch(ctx, event, Event{
			Event:           event,
			PromptID:        updated.PromptID,
			PromptVersionID: updated.ID,
			Version:         updated.Version,
			Status:          updated.Status,
			Details:         updated.RejectDetails,
			OccurredAt:      time.Now().UTC(),
		})
		if err != nil {
			log.Warn("failed to dispatch moderation event", "event", event, "error", err)
		}
	}

	return Result{OK: true, Result: updated}, nil
}

// Submit sends a draft or rejected version of promptID to moderation.
func (s *Service) Submit(ctx context.Context, promptID, versionID uuid.UUID) (Result, error) {
	return s.setStatus(ctx, promptID, versionID, models.StatusOnModeration, models.EventModerationSubmit, "")
}

func (s *Service) Approve(ctx context.Context, versionID uuid.UUID) (Result, error) {
	return s.SetVersionStatus(ctx, versionID, models.StatusPublished, models.EventModerationApprove, "")
}

func (s *Service) Reject(ctx context.Context, versionID uuid.UUID, details string) (Result, error) {
	return s.SetVersionStatus(ctx, versionID, models.StatusRejected, models.EventModerationReject, details)
}
