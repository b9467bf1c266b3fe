package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic requires max_tokens on every request.
const anthropicDefaultMaxTokens = 4096

type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []string {
	return []string{
		"claude-3-opus-20240229",
		"claude-3-sonnet-20240229",
		"claude-3-haiku-20240307",
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
	}
}

func toAnthropicParams(req ChatRequest) anthropic.MessageNewParams {
	systemText, msgs := toAnthropicMessages(req.Messages)

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params
}

// toAnthropicMessages lifts system messages into the system prompt, joined in
// order. Named user messages are prefixed with the speaker's name.
func toAnthropicMessages(in []Message) (string, []anthropic.MessageParam) {
	var system []string
	var msgs []anthropic.MessageParam
	for _, m := range in {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user":
			content := m.Content
			if m.Name != "" {
				content = m.Name + ": " + content
			}
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), msgs
}

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := p.client.Messages.New(ctx, toAnthropicParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &ChatResponse{
		ID:           string(resp.ID),
		Provider:     p.Name(),
		Model:        string(resp.Model),
		Content:      content.String(),
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		CostUSD:      CalculateCost(req.Model, in, out),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *AnthropicProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, toAnthropicParams(req))

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		var msg anthropic.Message
		for stream.Next() {
			evt := stream.Current()
			if err := msg.Accumulate(evt); err != nil {
				sendChunk(ctx, ch, StreamChunk{Error: fmt.Errorf("anthropic stream: %w", err), Done: true})
				return
			}

			switch evt.Type {
			case "content_block_delta":
				if evt.Delta.Type == "text_delta" && !sendChunk(ctx, ch, StreamChunk{Content: evt.Delta.Text}) {
					return
				}
			case "message_stop":
				sendChunk(ctx, ch, StreamChunk{
					Done:         true,
					InputTokens:  int(msg.Usage.InputTokens),
					OutputTokens: int(msg.Usage.OutputTokens),
				})
				return
			}
		}
		if err := stream.Err(); err != nil {
			sendChunk(ctx, ch, StreamChunk{Error: fmt.Errorf("anthropic stream: %w", err), Done: true})
			return
		}
		sendChunk(ctx, ch, StreamChunk{Done: true, InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)})
	}()

	return ch, nil
}
