package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []string {
	return []string{"gpt-4", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"}
}

// toOpenAIRequest maps req; zero-valued sampling settings are left to the
// model defaults.
func toOpenAIRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
		Stop:        req.Stop,
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

func toOpenAIMessages(in []Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, len(in))
	for i, m := range in {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}
	return msgs
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, toOpenAIRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &ChatResponse{
		ID:           resp.ID,
		Provider:     p.Name(),
		Model:        resp.Model,
		Content:      content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		CostUSD:      CalculateCost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// ChatCompletionStream relays content deltas; usage arrives in the final
// chunk because the request asks for it.
func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, toOpenAIRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		var usage openai.Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				sendChunk(ctx, ch, StreamChunk{Done: true, InputTokens: usage.PromptTokens, OutputTokens: usage.CompletionTokens})
				return
			}
			if err != nil {
				sendChunk(ctx, ch, StreamChunk{Error: fmt.Errorf("openai stream: %w", err), Done: true})
				return
			}
			if resp.Usage != nil {
				usage = *resp.Usage
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !sendChunk(ctx, ch, StreamChunk{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()

	return ch, nil
}
