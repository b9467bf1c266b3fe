package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChatCompletion(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hi sam"},"done":true,"prompt_eval_count":9,"eval_count":2}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL + "/")
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{
		Model:     "llama3",
		MaxTokens: 64,
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello", Name: "sam"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi sam", resp.Content)
	assert.Equal(t, 11, resp.TotalTokens)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.Equal(t, "sam: hello", got.Messages[1].Content)
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"done":true,"prompt_eval_count":4,"eval_count":2}`)
	}))
	defer srv.Close()

	ch, err := NewOllamaProvider(srv.URL).ChatCompletionStream(context.Background(), ChatRequest{Model: "llama3"})
	require.NoError(t, err)

	var text strings.Builder
	var last StreamChunk
	for c := range ch {
		require.NoError(t, c.Error)
		text.WriteString(c.Content)
		last = c
	}
	assert.Equal(t, "Hello", text.String())
	assert.True(t, last.Done)
	assert.Equal(t, 4, last.InputTokens)
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL).ChatCompletion(context.Background(), ChatRequest{Model: "nope"})
	assert.ErrorContains(t, err, "status 404")
	assert.ErrorContains(t, err, "model not found")
}
