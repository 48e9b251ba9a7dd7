package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nexushq/nexus/internal/registry"
)

// Adapter is the polymorphic seam across backend kinds: one implementation
// per protocol family, each translating the OpenAI-compatible wire shape to
// and from the backend's own. Adapters that don't support an operation
// (e.g. embeddings) return ErrUnsupported.
type Adapter interface {
	// ProbeRequest builds the GET request the health checker issues to list
	// models / confirm liveness for an agent of this kind.
	ProbeRequest(ctx context.Context, agentID, baseURL, apiKey string) (*http.Request, error)

	// ParseModels decodes a successful probe response body into Models.
	ParseModels(agentID string, body []byte) ([]registry.Model, error)

	// BuildChatRequest translates the raw OpenAI-shaped request body into
	// this backend's expected URL and body, rewriting the model field to
	// actualModel. The returned request is never modified by the proxy
	// beyond attaching headers already present on it.
	BuildChatRequest(ctx context.Context, baseURL, apiKey, actualModel string, rawBody []byte, stream bool) (*http.Request, error)

	// TranslateResponseBody reshapes a buffered (non-streaming) backend
	// response body back into OpenAI chat-completion JSON. The OpenAI-family
	// adapter (vLLM, llama.cpp, LM Studio, Exo, OpenAI-compatible, generic),
	// whose wire format already matches OpenAI's, returns the body unchanged.
	TranslateResponseBody(body []byte, requestedModel string) ([]byte, error)

	// TranslateStreamChunk reshapes one upstream SSE "data: ..." payload
	// (sans the "data: " prefix and trailing newlines) into zero or more
	// OpenAI-shaped SSE data payloads. Returning nil means the chunk carries
	// no client-visible delta.
	TranslateStreamChunk(chunk []byte, requestedModel string) ([][]byte, error)
}

// ErrUnsupported is returned by an adapter for an operation its backend
// kind cannot perform.
type ErrUnsupported struct {
	Kind      registry.Kind
	Operation string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Kind, e.Operation)
}

// ForKind returns the Adapter implementation for an agent kind.
func ForKind(kind registry.Kind) Adapter {
	switch kind {
	case registry.KindOllama:
		return ollamaAdapter{}
	case registry.KindAnthropic:
		return anthropicAdapter{}
	default:
		// vLLM, llama.cpp, LM Studio, OpenAI-compatible, Exo, and generic
		// backends all speak the OpenAI chat-completions wire format.
		return openAIFamilyAdapter{}
	}
}

// authHeader sets Authorization when apiKey is non-empty; most adapters
// share this, Anthropic overrides with its own header name.
func authHeader(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// rewriteModelField replaces the top-level "model" key in a JSON object
// body with model, preserving every other field byte-for-byte. Used so the
// backend sees the resolved/actual model while nothing else about the
// client's payload is disturbed.
func rewriteModelField(rawBody []byte, model string) ([]byte, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(rawBody, &generic); err != nil {
		return rawBody, err
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return rawBody, err
	}
	generic["model"] = encoded
	return json.Marshal(generic)
}

func trimSlash(url string) string {
	return strings.TrimRight(url, "/")
}
