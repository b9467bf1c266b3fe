package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptlib/internal/llm"
	"github.com/nikhilbhutani/promptlib/internal/metrics"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
)

type versionStore map[uuid.UUID]*models.PromptVersion

func (s versionStore) GetVersion(_ context.Context, _, id uuid.UUID, _ prompt.LoadOptions) (*models.PromptVersion, error) {
	v, ok := s[id]
	if !ok {
		return nil, prompt.ErrNotFound
	}
	return v, nil
}

type fakeGateway struct {
	got    llm.ChatRequest
	resp   *llm.ChatResponse
	chunks []llm.StreamChunk
}

func (g *fakeGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.got = req
	return g.resp, nil
}

func (g *fakeGateway) ChatStream(_ context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	g.got = req
	ch := make(chan llm.StreamChunk, len(g.chunks))
	for _, c := range g.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (g *fakeGateway) Provider(name string) (llm.Provider, error) { return nil, nil }

func (g *fakeGateway) ListModels() []llm.ModelInfo {
	return []llm.ModelInfo{{Provider: "openai", Model: "gpt-4o-mini"}}
}

type usageRecorder struct {
	records []models.LLMUsageLog
}

func (u *usageRecorder) LogLLMUsage(_ context.Context, record models.LLMUsageLog) error {
	u.records = append(u.records, record)
	return nil
}

func storedPersonaVersion() *models.PromptVersion {
	return &models.PromptVersion{
		ID:            uuid.New(),
		PromptID:      uuid.New(),
		Version:       1,
		Context:       "You are {{ persona }}.",
		ModelSettings: json.RawMessage(`{"provider":"openai","model":"gpt-4o","max_tokens":256}`),
		Status:        models.StatusPublished,
		Messages: []models.PromptMessage{
			{Position: 0, Role: models.RoleUser, Content: "Hi {{ persona }}"},
		},
		Variables: []models.PromptVariable{{Name: "persona", Value: "helper"}},
	}
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestConversationMergesStoredVersion(t *testing.T) {
	v := storedPersonaVersion()
	h := NewPredictHandler(prompt.NewPipeline(versionStore{v.ID: v}), &fakeGateway{}, nil, metrics.New())

	body := `{"prompt_version_id":"` + v.ID.String() + `","user_input":"hello","variables":[{"name":"persona","value":"pirate"}]}`
	rec := post(h.Conversation, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Messages        []prompt.Message     `json:"messages"`
		EstimatedTokens int                  `json:"estimated_tokens"`
		ModelSettings   prompt.ModelSettings `json:"model_settings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []prompt.Message{
		{Role: models.RoleSystem, Content: "You are pirate."},
		{Role: models.RoleUser, Content: "Hi pirate"},
		{Role: models.RoleUser, Content: "hello"},
	}, resp.Messages)
	assert.Positive(t, resp.EstimatedTokens)
	assert.Equal(t, "gpt-4o", resp.ModelSettings.Model)
}

func TestConversationTemplateError(t *testing.T) {
	h := NewPredictHandler(prompt.NewPipeline(versionStore{}), &fakeGateway{}, nil, nil)

	rec := post(h.Conversation, `{"context":"{% if %}"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var detail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, false, detail["ok"])
	assert.Equal(t, "CustomTemplateError", detail["type"])
	assert.Equal(t, []any{"context"}, detail["loc"])
}

func TestConversationMessageTemplateErrorLocation(t *testing.T) {
	h := NewPredictHandler(prompt.NewPipeline(versionStore{}), &fakeGateway{}, nil, nil)

	rec := post(h.Conversation, `{"messages":[{"role":"user","content":"ok"},{"role":"user","content":"{% bad %}"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var detail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, []any{"messages", float64(1)}, detail["loc"])
}

func TestPredictRequestErrors(t *testing.T) {
	h := NewPredictHandler(prompt.NewPipeline(versionStore{}), &fakeGateway{}, nil, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"context":`, http.StatusBadRequest},
		{"unknown role", `{"messages":[{"role":"robot","content":"x"}]}`, http.StatusBadRequest},
		{"missing version", `{"prompt_version_id":"` + uuid.NewString() + `"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h.Predict, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPredictCallsModelAndLogsUsage(t *testing.T) {
	v := storedPersonaVersion()
	gw := &fakeGateway{resp: &llm.ChatResponse{
		Provider: "openai", Model: "gpt-4o", Content: "Arr",
		InputTokens: 12, OutputTokens: 3, TotalTokens: 15,
	}}
	usage := &usageRecorder{}
	h := NewPredictHandler(prompt.NewPipeline(versionStore{v.ID: v}), gw, usage, nil)

	rec := post(h.Predict, `{"prompt_version_id":"`+v.ID.String()+`","user_input":"ahoy","user_name":"sam"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "openai", gw.got.Provider)
	assert.Equal(t, "gpt-4o", gw.got.Model)
	assert.Equal(t, 256, gw.got.MaxTokens)
	require.Len(t, gw.got.Messages, 3)
	assert.Equal(t, llm.Message{Role: "user", Content: "ahoy", Name: "sam"}, gw.got.Messages[2])

	require.Len(t, usage.records, 1)
	assert.Equal(t, v.ID, *usage.records[0].VersionID)
	assert.Equal(t, 15, usage.records[0].TotalTokens)
	assert.Equal(t, "predict", usage.records[0].Endpoint)
}

func TestPredictStream(t *testing.T) {
	gw := &fakeGateway{chunks: []llm.StreamChunk{
		{Content: "Hel"},
		{Content: "lo"},
		{Done: true, InputTokens: 5, OutputTokens: 2},
	}}
	usage := &usageRecorder{}
	h := NewPredictHandler(prompt.NewPipeline(versionStore{}), gw, usage, nil)

	rec := post(h.PredictStream, `{"user_input":"hi","model_settings":{"model":"gpt-4o-mini"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, events, 3)
	assert.Contains(t, events[0], `"content":"Hel"`)
	assert.Contains(t, events[2], `"done":true`)

	require.Len(t, usage.records, 1)
	assert.Equal(t, 7, usage.records[0].TotalTokens)
	assert.Equal(t, "gpt-4o-mini", usage.records[0].Model)
}

func TestModels(t *testing.T) {
	h := NewPredictHandler(prompt.NewPipeline(versionStore{}), &fakeGateway{}, nil, nil)

	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o-mini")
}
