package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/models"
)

// ErrNotFound is returned when a referenced prompt or version does not exist.
var ErrNotFound = errors.New("not found")

// LoadOptions selects which relations of a version are loaded alongside it.
type LoadOptions struct {
	Variables bool
	Messages  bool
}

// FullLoad loads every relation.
var FullLoad = LoadOptions{Variables: true, Messages: true}

// VersionStore reads stored prompt versions.
type VersionStore interface {
	GetVersion(ctx context.Context, projectID, versionID uuid.UUID, opts LoadOptions) (*models.PromptVersion, error)
}

// Pipeline turns predict requests into conversations ready for a model call.
type Pipeline struct {
	store VersionStore
}

func NewPipeline(store VersionStore) *Pipeline {
	return &Pipeline{store: store}
}

// PreparePayload parses a raw predict request and merges it with the stored
// version it references, if any.
func (p *Pipeline) PreparePayload(ctx context.Context, projectID uuid.UUID, raw []byte) (*PredictPayload, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	return p.Merge(ctx, projectID, payload)
}

// Merge fills the fields payload leaves unset from its referenced version.
// Relations the request already supplies are not loaded.
func (p *Pipeline) Merge(ctx context.Context, projectID uuid.UUID, payload *PredictPayload) (*PredictPayload, error) {
	if payload.PromptVersionID == nil {
		return payload, nil
	}

	opts := LoadOptions{
		Variables: !payload.Variables.Set,
		Messages:  !payload.Messages.Set,
	}
	version, err := p.store.GetVersion(ctx, projectID, *payload.PromptVersionID, opts)
	if err != nil {
		return nil, fmt.Errorf("load prompt version %s: %w", payload.PromptVersionID, err)
	}

	merged := Snapshot(version).MergeUpdate(payload)
	logging.FromContext(ctx).Debug("merged predict payload",
		"prompt_version_id", version.ID,
		"messages", len(merged.Messages.Value),
		"variables", len(merged.Variables.Value),
		"chat_history", len(merged.ChatHistory.Value),
	)
	return merged, nil
}
