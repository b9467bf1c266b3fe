package prompt

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/models"
)

func TestParsePayloadPresence(t *testing.T) {
	p, err := ParsePayload([]byte(`{
		"context": "",
		"variables": [{"name": "persona", "value": "a pirate"}],
		"messages": null,
		"user_input": "hi"
	}`))
	require.NoError(t, err)

	assert.True(t, p.Context.Set, "explicit empty string is set")
	assert.True(t, p.Variables.Set)
	assert.False(t, p.Messages.Set, "null is unset")
	assert.False(t, p.ChatHistory.Set, "missing is unset")
	assert.Equal(t, "hi", p.UserInput.Or("fallback"))
	assert.Equal(t, "fallback", p.UserName.Or("fallback"))
	assert.Nil(t, p.PromptVersionID)
}

func TestParsePayloadValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"context": `, "body"},
		{"wrong type", `{"messages": "hello"}`, "body"},
		{"bad version id", `{"prompt_version_id": "nope"}`, "body"},
		{"unknown message role", `{"messages": [{"role": "tool", "content": "x"}]}`, "messages[0].role"},
		{"unknown history role", `{"chat_history": [{"role": "user", "content": "a"}, {"role": "", "content": "b"}]}`, "chat_history[1].role"},
		{"empty variable name", `{"variables": [{"name": " ", "value": "x"}]}`, "variables[0].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.body))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestPayloadRoundTripOmitsUnset(t *testing.T) {
	p := &PredictPayload{UserInput: Some("bye")}
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_input": "bye"}`, string(out))
}

func TestBindingsLastWriteWins(t *testing.T) {
	p := &PredictPayload{Variables: Some([]Variable{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
		{Name: "a", Value: "3"},
	})}
	assert.Equal(t, map[string]any{"a": "3", "b": "2"}, p.Bindings())
}

func storedVersion() *models.PromptVersion {
	name := "narrator"
	return &models.PromptVersion{
		ID:       uuid.New(),
		PromptID: uuid.New(),
		Context:  "You are {{persona}}",
		Messages: []models.PromptMessage{
			{Position: 0, Role: models.RoleAssistant, Name: &name, Content: "Ahoy {{ name }}"},
			{Position: 1, Role: models.RoleUser, Content: "Tell me about {{ topic }}"},
		},
		Variables: []models.PromptVariable{
			{Name: "persona", Value: "a pirate"},
			{Name: "topic", Value: "ships"},
		},
		ModelSettings: json.RawMessage(`{"provider": "openai", "model": "gpt-4o-mini", "temperature": 0.2}`),
		Status:        models.StatusPublished,
	}
}

func TestSnapshot(t *testing.T) {
	v := storedVersion()
	s := Snapshot(v)

	require.NotNil(t, s.PromptVersionID)
	assert.Equal(t, v.ID, *s.PromptVersionID)
	assert.Equal(t, Some("You are {{persona}}"), s.Context)
	require.Len(t, s.Messages.Value, 2)
	assert.Equal(t, Message{Role: models.RoleAssistant, Name: "narrator", Content: "Ahoy {{ name }}"}, s.Messages.Value[0])
	assert.Equal(t, []Variable{{"persona", "a pirate"}, {"topic", "ships"}}, s.Variables.Value)
	assert.Equal(t, "gpt-4o-mini", s.ModelSettings.Value.Model)
	assert.False(t, s.ChatHistory.Set)
	assert.False(t, s.UserInput.Set)
}

func TestSnapshotIgnoresBadModelSettings(t *testing.T) {
	v := storedVersion()
	v.ModelSettings = json.RawMessage(`"not an object"`)
	assert.False(t, Snapshot(v).ModelSettings.Set)
}

func TestMergeUpdateEmptyIsIdentity(t *testing.T) {
	v := storedVersion()
	assert.Equal(t, Snapshot(v), Snapshot(v).MergeUpdate(&PredictPayload{}))
}

func TestMergeUpdateOverridesOnlySetFields(t *testing.T) {
	v := storedVersion()
	override := &PredictPayload{
		Variables: Some([]Variable{{Name: "persona", Value: "a robot"}}),
		UserInput: Some("hello"),
	}

	merged := Snapshot(v).MergeUpdate(override)

	assert.Equal(t, []Variable{{"persona", "a robot"}}, merged.Variables.Value)
	assert.Equal(t, Snapshot(v).Messages, merged.Messages)
	assert.Equal(t, Snapshot(v).Context, merged.Context)
	assert.Equal(t, Some("hello"), merged.UserInput)
}

func TestMergeUpdateExplicitEmptyOverrides(t *testing.T) {
	merged := Snapshot(storedVersion()).MergeUpdate(&PredictPayload{
		Context:  Some(""),
		Messages: Some([]Message{}),
	})
	assert.Equal(t, Some(""), merged.Context)
	assert.True(t, merged.Messages.Set)
	assert.Empty(t, merged.Messages.Value)
}
