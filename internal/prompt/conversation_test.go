package prompt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/models"
)

func TestPrepareConversationContext(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{
		Context:   Some("You are {{persona}}"),
		Variables: Some([]Variable{{Name: "persona", Value: "a pirate"}}),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{Role: models.RoleSystem, Content: "You are a pirate"}, msgs[0])
}

func TestPrepareConversationUndefinedVariable(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{
		Messages: Some([]Message{{Role: models.RoleUser, Content: "Hello {{name}}"}}),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "{{ name }}")
	assert.NotEqual(t, "Hello ", msgs[0].Content)
}

func TestPrepareConversationContextSyntaxError(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{
		Context:  Some("{% if %}"),
		Messages: Some([]Message{{Role: models.RoleUser, Content: "fine"}}),
	})
	assert.Nil(t, msgs)

	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Context template error", terr.Msg)
	assert.Equal(t, []any{"context"}, terr.Loc)
	assert.ErrorIs(t, err, ErrTemplateSyntax)
}

func TestPrepareConversationMessageSyntaxError(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{
		Messages: Some([]Message{
			{Role: models.RoleSystem, Content: "ok {{ a }}"},
			{Role: models.RoleUser, Content: "also ok"},
			{Role: models.RoleUser, Content: "{% bad %}"},
			{Role: models.RoleUser, Content: "{% never reached"},
		}),
	})
	assert.Nil(t, msgs)

	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Message template error", terr.Msg)
	assert.Equal(t, []any{"messages", 2}, terr.Loc)

	detail, jerr := json.Marshal(terr.Detail())
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"ok": false, "msg": "Message template error", "type": "CustomTemplateError", "loc": ["messages", 2]}`, string(detail))
}

func TestPrepareConversationHistoryAndInputOnly(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{
		Context:     Some(""),
		Messages:    Some([]Message{}),
		ChatHistory: Some([]Message{{Role: models.RoleUser, Content: "hi"}}),
		UserInput:   Some("bye"),
	})
	require.NoError(t, err)
	assert.Equal(t, []Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleUser, Content: "bye"},
	}, msgs)

	out, err := json.Marshal(msgs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","content":"hi"},{"role":"user","content":"bye"}]`, string(out))
}

func TestPrepareConversationOrdering(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{
		Context: Some("ctx {{ v }}"),
		Messages: Some([]Message{
			{Role: models.RoleUser, Content: "m0 {{ v }}", Name: "alice"},
			{Role: models.RoleAssistant, Content: "m1"},
		}),
		Variables: Some([]Variable{{Name: "v", Value: "1"}, {Name: "v", Value: "2"}}),
		ChatHistory: Some([]Message{
			{Role: models.RoleUser, Content: "h0 {{ v }}"},
			{Role: models.RoleAssistant, Content: "h1 {% if %}"},
		}),
		UserInput: Some("in {{ v }}"),
		UserName:  Some("bob"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Message{
		{Role: models.RoleSystem, Content: "ctx 2"},
		{Role: models.RoleUser, Content: "m0 2", Name: "alice"},
		{Role: models.RoleAssistant, Content: "m1"},
		{Role: models.RoleUser, Content: "h0 {{ v }}"},
		{Role: models.RoleAssistant, Content: "h1 {% if %}"},
		{Role: models.RoleUser, Content: "in {{ v }}", Name: "bob"},
	}, msgs)
}

func TestPrepareConversationEmpty(t *testing.T) {
	msgs, err := PrepareConversation(&PredictPayload{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTemplateErrorString(t *testing.T) {
	err := &TemplateError{Msg: "Message template error", Loc: []any{"messages", 3}, Err: errors.New("boom")}
	assert.Equal(t, "Message template error at messages.3: boom", err.Error())
	assert.Equal(t, "CustomTemplateError", err.Type())
}
