package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/nexushq/nexus/internal/registry"
)

// openAIFamilyAdapter serves every backend kind that already speaks the
// OpenAI chat-completions wire format (vLLM, llama.cpp, LM Studio,
// OpenAI-compatible cloud endpoints, Exo, and unrecognized "generic"
// backends): no request or response reshaping is needed beyond the
// model-field rewrite every adapter performs.
type openAIFamilyAdapter struct{}

func (openAIFamilyAdapter) ProbeRequest(ctx context.Context, _ string, baseURL, apiKey string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimSlash(baseURL)+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	authHeader(req, apiKey)
	return req, nil
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (openAIFamilyAdapter) ParseModels(agentID string, body []byte) ([]registry.Model, error) {
	var parsed openAIModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	models := make([]registry.Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, registry.Model{
			ID:            m.ID,
			ContextWindow: 8192, // OpenAI's /v1/models omits context length; a fixed default is used.
			AgentID:       agentID,
		})
	}
	return models, nil
}

func (openAIFamilyAdapter) BuildChatRequest(ctx context.Context, baseURL, apiKey, actualModel string, rawBody []byte, _ bool) (*http.Request, error) {
	body, err := rewriteModelField(rawBody, actualModel)
	if err != nil {
		body = rawBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trimSlash(baseURL)+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	authHeader(req, apiKey)
	return req, nil
}

func (openAIFamilyAdapter) TranslateResponseBody(body []byte, _ string) ([]byte, error) {
	return body, nil
}

func (openAIFamilyAdapter) TranslateStreamChunk(chunk []byte, _ string) ([][]byte, error) {
	return [][]byte{chunk}, nil
}
