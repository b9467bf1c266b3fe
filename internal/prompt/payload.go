package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/models"
)

// Message is one role-tagged entry of a prompt or an assembled conversation.
type Message struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
	Name    string             `json:"name,omitempty"`
}

// Variable binds a template variable name to a value.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ModelSettings selects the model a conversation is sent to.
type ModelSettings struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// PredictPayload is the request for rendering, and optionally running, a
// prompt. When PromptVersionID is set, fields the request leaves unset are
// filled from the stored version.
type PredictPayload struct {
	PromptVersionID *uuid.UUID              `json:"prompt_version_id,omitempty"`
	Context         Optional[string]        `json:"context,omitzero"`
	Messages        Optional[[]Message]     `json:"messages,omitzero"`
	Variables       Optional[[]Variable]    `json:"variables,omitzero"`
	ChatHistory     Optional[[]Message]     `json:"chat_history,omitzero"`
	UserInput       Optional[string]        `json:"user_input,omitzero"`
	UserName        Optional[string]        `json:"user_name,omitzero"`
	ModelSettings   Optional[ModelSettings] `json:"model_settings,omitzero"`
}

// ValidationError reports a request payload that is well-formed JSON but not
// an acceptable predict request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParsePayload decodes and validates a raw predict request.
func ParsePayload(raw []byte) (*PredictPayload, error) {
	var p PredictPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *PredictPayload) Validate() error {
	if err := validateRoles("messages", p.Messages.Value); err != nil {
		return err
	}
	if err := validateRoles("chat_history", p.ChatHistory.Value); err != nil {
		return err
	}
	for i, v := range p.Variables.Value {
		if strings.TrimSpace(v.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("variables[%d].name", i), Reason: "must not be empty"}
		}
	}
	return nil
}

func validateRoles(field string, msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return &ValidationError{
				Field:  fmt.Sprintf("%s[%d].role", field, i),
				Reason: fmt.Sprintf("unknown role %q", m.Role),
			}
		}
	}
	return nil
}

// Bindings maps variable names to values. A later duplicate name wins.
func (p *PredictPayload) Bindings() map[string]any {
	vars := make(map[string]any, len(p.Variables.Value))
	for _, v := range p.Variables.Value {
		vars[v.Name] = v.Value
	}
	return vars
}

// Snapshot builds the payload a stored version would produce on its own.
func Snapshot(v *models.PromptVersion) *PredictPayload {
	id := v.ID
	p := &PredictPayload{
		PromptVersionID: &id,
		Context:         Some(v.Context),
	}

	msgs := make([]Message, 0, len(v.Messages))
	for _, m := range v.Messages {
		msg := Message{Role: m.Role, Content: m.Content}
		if m.Name != nil {
			msg.Name = *m.Name
		}
		msgs = append(msgs, msg)
	}
	p.Messages = Some(msgs)

	vars := make([]Variable, 0, len(v.Variables))
	for _, vv := range v.Variables {
		vars = append(vars, Variable{Name: vv.Name, Value: vv.Value})
	}
	p.Variables = Some(vars)

	if len(v.ModelSettings) > 0 && !bytes.Equal(v.ModelSettings, []byte("null")) {
		var ms ModelSettings
		if err := json.Unmarshal(v.ModelSettings, &ms); err == nil {
			p.ModelSettings = Some(ms)
		}
	}
	return p
}

// MergeUpdate returns a copy of p with every field set on override replacing
// the corresponding field of p.
func (p *PredictPayload) MergeUpdate(override *PredictPayload) *PredictPayload {
	merged := *p
	if override.PromptVersionID != nil {
		merged.PromptVersionID = override.PromptVersionID
	}
	merged.Context = p.Context.Override(override.Context)
	merged.Messages = p.Messages.Override(override.Messages)
	merged.Variables = p.Variables.Override(override.Variables)
	merged.ChatHistory = p.ChatHistory.Override(override.ChatHistory)
	merged.UserInput = p.UserInput.Override(override.UserInput)
	merged.UserName = p.UserName.Override(override.UserName)
	merged.ModelSettings = p.ModelSettings.Override(override.ModelSettings)
	return &merged
}

// TokenText exposes the message to token estimation.
func (m Message) TokenText() (role, name, content string) {
	return string(m.Role), m.Name, m.Content
}
