package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nexushq/nexus/internal/registry"
)

// ollamaAdapter speaks Ollama's native /api/tags and /api/chat surface.
type ollamaAdapter struct{}

func (ollamaAdapter) ProbeRequest(ctx context.Context, _ string, baseURL, _ string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, trimSlash(baseURL)+"/api/tags", nil)
}

type ollamaTagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Families []string `json:"families"`
		} `json:"details"`
	} `json:"models"`
}

func (ollamaAdapter) ParseModels(agentID string, body []byte) ([]registry.Model, error) {
	var parsed ollamaTagsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	models := make([]registry.Model, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, registry.Model{
			ID:            m.Name,
			ContextWindow: 8192, // Ollama's tags endpoint doesn't report context length either.
			AgentID:       agentID,
		})
	}
	return models, nil
}

// ollamaChatRequest is the minimal request shape Ollama's /api/chat expects.
// Of the rest of the OpenAI body only tools (passed through) and a
// json_object response_format (sent as format "json") are carried over;
// sampling fields such as temperature are not forwarded.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    json.RawMessage `json:"tools,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
}

type openAIRequestShape struct {
	Messages json.RawMessage `json:"messages"`
	Tools    json.RawMessage `json:"tools,omitempty"`
	Response *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

func (ollamaAdapter) BuildChatRequest(ctx context.Context, baseURL, _ string, actualModel string, rawBody []byte, stream bool) (*http.Request, error) {
	var shape openAIRequestShape
	_ = json.Unmarshal(rawBody, &shape)

	body := ollamaChatRequest{
		Model:    actualModel,
		Messages: shape.Messages,
		Stream:   stream,
		Tools:    shape.Tools,
	}
	if shape.Response != nil && shape.Response.Type == "json_object" {
		body.Format, _ = json.Marshal("json")
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, trimSlash(baseURL)+"/api/chat", bytes.NewReader(encoded))
}

// ollamaChatResponse is Ollama's non-streaming /api/chat response shape.
type ollamaChatResponse struct {
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
	Message   json.RawMessage `json:"message"`
	Done      bool            `json:"done"`
	EvalCount int             `json:"eval_count"`
	PromptEvalCount int       `json:"prompt_eval_count"`
}

// TranslateResponseBody reshapes Ollama's single-object /api/chat response
// into an OpenAI chat.completion object.
func (ollamaAdapter) TranslateResponseBody(body []byte, requestedModel string) ([]byte, error) {
	var src ollamaChatResponse
	if err := json.Unmarshal(body, &src); err != nil {
		return body, err
	}

	out := map[string]any{
		"id":      "ollama-" + src.CreatedAt.Format("20060102150405"),
		"object":  "chat.completion",
		"created": src.CreatedAt.Unix(),
		"model":   requestedModel,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       json.RawMessage(src.Message),
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     src.PromptEvalCount,
			"completion_tokens": src.EvalCount,
			"total_tokens":      src.PromptEvalCount + src.EvalCount,
		},
	}
	return json.Marshal(out)
}

// TranslateStreamChunk reshapes one Ollama streaming JSON object (Ollama's
// stream is newline-delimited JSON, not SSE) into an OpenAI
// chat.completion.chunk SSE payload.
func (ollamaAdapter) TranslateStreamChunk(chunk []byte, requestedModel string) ([][]byte, error) {
	var src ollamaChatResponse
	if err := json.Unmarshal(chunk, &src); err != nil {
		return nil, err
	}

	delta := map[string]any{
		"id":      "ollama-stream",
		"object":  "chat.completion.chunk",
		"created": src.CreatedAt.Unix(),
		"model":   requestedModel,
		"choices": []map[string]any{
			{
				"index": 0,
				"delta": json.RawMessage(src.Message),
			},
		},
	}
	if src.Done {
		delta["choices"].([]map[string]any)[0]["finish_reason"] = "stop"
	}
	encoded, err := json.Marshal(delta)
	if err != nil {
		return nil, err
	}
	return [][]byte{encoded}, nil
}
