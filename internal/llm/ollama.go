package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider talks to a local Ollama server's /api/chat endpoint.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaProvider(baseURL string) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Models() []string {
	return []string{"llama3", "llama3.1", "mistral", "gemma2"}
}

type ollamaChatReq struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResp struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// toOllamaRequest converts req. Ollama has no speaker name field, so named
// messages carry the name as a "name: " prefix.
func toOllamaRequest(req ChatRequest, stream bool) ollamaChatReq {
	msgs := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		content := m.Content
		if m.Name != "" {
			content = m.Name + ": " + content
		}
		msgs[i] = ollamaMessage{Role: m.Role, Content: content}
	}

	out := ollamaChatReq{Model: req.Model, Messages: msgs, Stream: stream}
	if req.Temperature > 0 || req.MaxTokens > 0 || req.TopP > 0 || len(req.Stop) > 0 {
		out.Options = &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			TopP:        req.TopP,
			Stop:        req.Stop,
		}
	}
	return out
}

func (p *OllamaProvider) post(ctx context.Context, body ollamaChatReq) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp, nil
}

func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := p.post(ctx, toOllamaRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oResp ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("ollama decode: %w", err)
	}

	return &ChatResponse{
		Provider:     p.Name(),
		Model:        req.Model,
		Content:      oResp.Message.Content,
		InputTokens:  oResp.PromptEvalCount,
		OutputTokens: oResp.EvalCount,
		TotalTokens:  oResp.PromptEvalCount + oResp.EvalCount,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// ChatCompletionStream decodes Ollama's newline-delimited JSON stream. The
// reader stops when ctx is cancelled.
func (p *OllamaProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, toOllamaRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c StreamChunk) bool { return sendChunk(ctx, ch, c) }

		dec := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaChatResp
			if err := dec.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					send(StreamChunk{Done: true})
				} else {
					send(StreamChunk{Error: err, Done: true})
				}
				return
			}
			switch {
			case chunk.Error != "":
				send(StreamChunk{Error: errors.New(chunk.Error), Done: true})
				return
			case chunk.Done:
				send(StreamChunk{Done: true, InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount})
				return
			}
			if !send(StreamChunk{Content: chunk.Message.Content}) {
				return
			}
		}
	}()

	return ch, nil
}
