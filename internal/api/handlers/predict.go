package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptlib/internal/llm"
	"github.com/nikhilbhutani/promptlib/internal/logging"
	"github.com/nikhilbhutani/promptlib/internal/metrics"
	"github.com/nikhilbhutani/promptlib/internal/models"
	"github.com/nikhilbhutani/promptlib/internal/project"
	"github.com/nikhilbhutani/promptlib/internal/prompt"
	"github.com/nikhilbhutani/promptlib/pkg/tokenizer"
)

// PayloadPreparer parses a predict request and merges it with its stored version.
type PayloadPreparer interface {
	PreparePayload(ctx context.Context, projectID uuid.UUID, raw []byte) (*prompt.PredictPayload, error)
}

type UsageLogger interface {
	LogLLMUsage(ctx context.Context, record models.LLMUsageLog) error
}

type PredictHandler struct {
	pipeline PayloadPreparer
	gateway  llm.Gateway
	usage    UsageLogger
	metrics  *metrics.Metrics
}

// NewPredictHandler wires the predict routes. usage and m may be nil.
func NewPredictHandler(pipeline PayloadPreparer, gw llm.Gateway, usage UsageLogger, m *metrics.Metrics) *PredictHandler {
	return &PredictHandler{pipeline: pipeline, gateway: gw, usage: usage, metrics: m}
}

// Conversation renders a predict request without calling a model.
func (h *PredictHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	payload, msgs, ok := h.prepare(w, r)
	if !ok {
		return
	}

	resp := map[string]any{
		"messages":         msgs,
		"estimated_tokens": tokenizer.CountConversation(msgs),
	}
	if ms, set := payload.ModelSettings.Get(); set {
		resp["model_settings"] = ms
	}
	if payload.PromptVersionID != nil {
		resp["prompt_version_id"] = payload.PromptVersionID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	payload, msgs, ok := h.prepare(w, r)
	if !ok {
		return
	}

	req := chatRequest(payload, msgs)
	resp, err := h.gateway.Chat(r.Context(), req)
	if err != nil {
		writeMessage(w, http.StatusBadGateway, err.Error())
		return
	}

	h.metrics.ObserveTokens(resp.Provider, resp.Model, resp.InputTokens, resp.OutputTokens)
	h.logUsage(r.Context(), models.LLMUsageLog{
		VersionID:    payload.PromptVersionID,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.TotalTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    int(resp.LatencyMs),
		Endpoint:     "predict",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"prompt_version_id": payload.PromptVersionID,
		"messages":          msgs,
		"response":          resp,
	})
}

// PredictStream runs a predict request and relays the completion as
// server-sent events.
func (h *PredictHandler) PredictStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	payload, msgs, ok := h.prepare(w, r)
	if !ok {
		return
	}

	req := chatRequest(payload, msgs)
	start := time.Now()
	ch, err := h.gateway.ChatStream(r.Context(), req)
	if err != nil {
		writeMessage(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range ch {
		if chunk.Error != nil {
			fmt.Fprintf(w, "data: {\"error\":%q}\n\n", chunk.Error.Error())
			flusher.Flush()
			return
		}

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		if chunk.Done {
			h.metrics.ObserveTokens(req.Provider, req.Model, chunk.InputTokens, chunk.OutputTokens)
			h.logUsage(r.Context(), models.LLMUsageLog{
				VersionID:    payload.PromptVersionID,
				Provider:     req.Provider,
				Model:        req.Model,
				InputTokens:  chunk.InputTokens,
				OutputTokens: chunk.OutputTokens,
				TotalTokens:  chunk.InputTokens + chunk.OutputTokens,
				CostUSD:      llm.CalculateCost(req.Model, chunk.InputTokens, chunk.OutputTokens),
				LatencyMs:    int(time.Since(start).Milliseconds()),
				Endpoint:     "predict_stream",
			})
			return
		}
	}
}

func (h *PredictHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.gateway.ListModels()})
}

// prepare merges the request with its stored version and renders it. On
// failure the error response has already been written.
func (h *PredictHandler) prepare(w http.ResponseWriter, r *http.Request) (*prompt.PredictPayload, []prompt.Message, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}

	payload, err := h.pipeline.PreparePayload(r.Context(), project.IDFromContext(r.Context()), raw)
	if err != nil {
		writeError(w, r, err)
		return nil, nil, false
	}

	msgs, err := prompt.PrepareConversation(payload)
	if err != nil {
		var tplErr *prompt.TemplateError
		if errors.As(err, &tplErr) && len(tplErr.Loc) > 0 {
			h.metrics.ObserveTemplateError(fmt.Sprint(tplErr.Loc[0]))
		}
		writeError(w, r, err)
		return nil, nil, false
	}

	h.metrics.ObserveConversation(payload.PromptVersionID != nil)
	return payload, msgs, true
}

func (h *PredictHandler) logUsage(ctx context.Context, record models.LLMUsageLog) {
	if h.usage == nil {
		return
	}
	if err := h.usage.LogLLMUsage(ctx, record); err != nil {
		logging.FromContext(ctx).Warn("failed to record model usage", "error", err)
	}
}

func chatRequest(p *prompt.PredictPayload, msgs []prompt.Message) llm.ChatRequest {
	req := llm.ChatRequest{Messages: make([]llm.Message, len(msgs))}
	for i, m := range msgs {
		req.Messages[i] = llm.Message{Role: string(m.Role), Content: m.Content, Name: m.Name}
	}

	if ms, ok := p.ModelSettings.Get(); ok {
		req.Provider = ms.Provider
		req.Model = ms.Model
		req.MaxTokens = ms.MaxTokens
		if ms.Temperature != nil {
			req.Temperature = *ms.Temperature
		}
		if ms.TopP != nil {
			req.TopP = *ms.TopP
		}
	}
	return req
}
