package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PublishStatus is the moderation state of a prompt version.
type PublishStatus string

const (
	StatusDraft        PublishStatus = "draft"
	StatusOnModeration PublishStatus = "on_moderation"
	StatusPublished    PublishStatus = "published"
	StatusRejected     PublishStatus = "rejected"
)

func (s PublishStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusOnModeration, StatusPublished, StatusRejected:
		return true
	}
	return false
}

// MessageRole is the speaker of a prompt or conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type Prompt struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ProjectID      uuid.UUID `json:"project_id" db:"project_id"`
	OwnerID        uuid.UUID `json:"owner_id" db:"owner_id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description,omitempty" db:"description"`
	CurrentVersion int       `json:"current_version" db:"current_version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PromptVersion is a snapshot of a prompt's content. Once published its
// messages and variables no longer change.
type PromptVersion struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	PromptID      uuid.UUID        `json:"prompt_id" db:"prompt_id"`
	Version       int              `json:"version" db:"version"`
	AuthorID      uuid.UUID        `json:"author_id" db:"author_id"`
	Context       string           `json:"context" db:"context"`
	ModelSettings json.RawMessage  `json:"model_settings,omitempty" db:"model_settings"`
	Status        PublishStatus    `json:"status" db:"status"`
	RejectDetails *string          `json:"reject_details,omitempty" db:"reject_details"`
	Messages      []PromptMessage  `json:"messages"`
	Variables     []PromptVariable `json:"variables"`
	Tags          []PromptTag      `json:"tags,omitempty"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

func (v *PromptVersion) Published() bool {
	return v.Status == StatusPublished
}

type PromptMessage struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	PromptVersionID uuid.UUID   `json:"prompt_version_id" db:"prompt_version_id"`
	Position        int         `json:"position" db:"position"`
	Role            MessageRole `json:"role" db:"role"`
	Name            *string     `json:"name,omitempty" db:"name"`
	Content         string      `json:"content" db:"content"`
}

type PromptVariable struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PromptVersionID uuid.UUID `json:"prompt_version_id" db:"prompt_version_id"`
	Name            string    `json:"name" db:"name"`
	Value           string    `json:"value" db:"value"`
}

type PromptTag struct {
	ID   uuid.UUID       `json:"id" db:"id"`
	Name string          `json:"name" db:"name"`
	Data json.RawMessage `json:"data,omitempty" db:"data"`
}

// RankedTag is a tag together with the number of distinct prompts using it.
type RankedTag struct {
	PromptTag
	PromptCount int `json:"prompt_count"`
}

// AuthorStats summarizes what an author has contributed to a project.
type AuthorStats struct {
	TotalPrompts      int `json:"total_prompts"`
	PublicPrompts     int `json:"public_prompts"`
	TotalCollections  int `json:"total_collections"`
	PublicCollections int `json:"public_collections"`
}

// NotificationEvent names the event sent to webhook subscribers on a
// moderation status change.
type NotificationEvent string

const (
	EventModerationSubmit  NotificationEvent = "prompt_moderation_submit"
	EventModerationApprove NotificationEvent = "prompt_moderation_approve"
	EventModerationReject  NotificationEvent = "prompt_moderation_reject"
)

func (e NotificationEvent) Valid() bool {
	switch e {
	case EventModerationSubmit, EventModerationApprove, EventModerationReject:
		return true
	}
	return false
}
