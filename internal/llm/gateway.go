package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nikhilbhutani/promptlib/internal/config"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	defaultModel     string
	fallbackProvider string
	maxRetries       int
	retryDelay       time.Duration
}

func NewGateway(cfg config.LLMConfig) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  cfg.DefaultProvider,
		defaultModel:     cfg.DefaultModel,
		fallbackProvider: cfg.FallbackProvider,
		maxRetries:       cfg.MaxRetries,
	}

	if cfg.OpenAIKey != "" {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey)
	}
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}

	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// withDefaults fills the provider and model the request leaves empty.
func (g *gateway) withDefaults(req ChatRequest) ChatRequest {
	if req.Provider == "" {
		req.Provider = g.defaultProvider
		if req.Model == "" {
			req.Model = g.defaultModel
		}
	}
	return req
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = g.withDefaults(req)

	resp, err := g.chatWithRetry(ctx, req.Provider, req)
	if err != nil && g.fallbackProvider != "" && g.fallbackProvider != req.Provider {
		slog.Warn("primary provider failed, trying fallback",
			"primary", req.Provider,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	delay := g.retryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	resp, err := retry.DoWithData(
		func() (*ChatResponse, error) { return p.ChatCompletion(ctx, req) },
		retry.Context(ctx),
		retry.Attempts(uint(max(g.maxRetries, 0)+1)),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, err)
	}
	return resp, nil
}

func (g *gateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	req = g.withDefaults(req)

	p, err := g.Provider(req.Provider)
	if err != nil {
		return nil, err
	}
	return p.ChatCompletionStream(ctx, req)
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			models = append(models, ModelInfo{Provider: p.Name(), Model: m})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Model < models[j].Model
	})
	return models
}
