package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/nexushq/nexus/internal/registry"
)

// anthropicAdapter speaks Anthropic's Messages API: x-api-key auth, a
// system message carried out-of-band from the messages array, and an SSE
// event stream shaped nothing like OpenAI's chunk-per-line format.
type anthropicAdapter struct{}

const anthropicVersion = "2023-06-01"

func anthropicHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func (anthropicAdapter) ProbeRequest(ctx context.Context, _ string, baseURL, apiKey string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimSlash(baseURL)+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	anthropicHeaders(req, apiKey)
	return req, nil
}

type anthropicModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (anthropicAdapter) ParseModels(agentID string, body []byte) ([]registry.Model, error) {
	var parsed anthropicModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	models := make([]registry.Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, registry.Model{
			ID:            m.ID,
			ContextWindow: 200000, // Claude's published context window, applied to every listed model.
			AgentID:       agentID,
		})
	}
	return models, nil
}

// claudeMessage and friends mirror Anthropic's Messages API wire shape.
type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature,omitempty"`
	TopP        float32         `json:"top_p,omitempty"`
	StopSeq     []string        `json:"stop_sequences,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []claudeTool    `json:"tools,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Content      []claudeContent `json:"content"`
	Model        string          `json:"model"`
	StopReason   string          `json:"stop_reason"`
	StopSequence string          `json:"stop_sequence,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
}

type claudeStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index,omitempty"`
	Delta        *claudeDelta    `json:"delta,omitempty"`
	ContentBlock *claudeContent  `json:"content_block,omitempty"`
	Message      *claudeResponse `json:"message,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
}

type claudeDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// openAIChatBody is the subset of an OpenAI chat-completions request this
// adapter needs in order to build the equivalent claudeRequest.
type openAIChatBody struct {
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	Stop        []string `json:"stop"`
	Tools       []struct {
		Function struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

const defaultClaudeMaxTokens = 4096

func (anthropicAdapter) BuildChatRequest(ctx context.Context, baseURL, apiKey, actualModel string, rawBody []byte, stream bool) (*http.Request, error) {
	var src openAIChatBody
	_ = json.Unmarshal(rawBody, &src)

	var system string
	var messages []claudeMessage
	for _, m := range src.Messages {
		var text string
		if err := json.Unmarshal(m.Content, &text); err != nil {
			// Vision/multi-part content isn't translated here; pass the raw
			// text extraction through best-effort.
			text = string(m.Content)
		}
		if m.Role == "system" {
			system = text
			continue
		}
		messages = append(messages, claudeMessage{
			Role:    m.Role,
			Content: []claudeContent{{Type: "text", Text: text}},
		})
	}

	maxTokens := src.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	var tools []claudeTool
	for _, t := range src.Tools {
		tools = append(tools, claudeTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	body := claudeRequest{
		Model:       actualModel,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: src.Temperature,
		TopP:        src.TopP,
		StopSeq:     src.Stop,
		Stream:      stream,
		Tools:       tools,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trimSlash(baseURL)+"/v1/messages", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	anthropicHeaders(req, apiKey)
	return req, nil
}

// TranslateResponseBody reshapes a buffered Messages API response into an
// OpenAI chat.completion object, flattening text and tool_use content
// blocks into a single assistant message.
func (anthropicAdapter) TranslateResponseBody(body []byte, requestedModel string) ([]byte, error) {
	var src claudeResponse
	if err := json.Unmarshal(body, &src); err != nil {
		return body, err
	}

	message := map[string]any{"role": "assistant"}
	var text string
	var toolCalls []map[string]any
	for _, c := range src.Content {
		switch c.Type {
		case "text":
			text += c.Text
		case "tool_use":
			toolCalls = append(toolCalls, map[string]any{
				"id":   c.ID,
				"type": "function",
				"function": map[string]any{
					"name":      c.Name,
					"arguments": string(c.Input),
				},
			})
		}
	}
	message["content"] = text
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	usage := map[string]any{}
	if src.Usage != nil {
		usage["prompt_tokens"] = src.Usage.InputTokens
		usage["completion_tokens"] = src.Usage.OutputTokens
		usage["total_tokens"] = src.Usage.InputTokens + src.Usage.OutputTokens
	}

	out := map[string]any{
		"id":      src.ID,
		"object":  "chat.completion",
		"model":   requestedModel,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       message,
				"finish_reason": finishReasonFromStopReason(src.StopReason),
			},
		},
		"usage": usage,
	}
	return json.Marshal(out)
}

// TranslateStreamChunk reshapes one Messages API SSE event payload into
// zero or more OpenAI chat.completion.chunk payloads. Most event types
// (message_start, content_block_start/stop, ping) carry no client-visible
// delta and are dropped.
func (anthropicAdapter) TranslateStreamChunk(chunk []byte, requestedModel string) ([][]byte, error) {
	var event claudeStreamEvent
	if err := json.Unmarshal(chunk, &event); err != nil {
		return nil, err
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta == nil || event.Delta.Type != "text_delta" {
			return nil, nil
		}
		encoded, err := json.Marshal(map[string]any{
			"id":      "anthropic-stream",
			"object":  "chat.completion.chunk",
			"model":   requestedModel,
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]any{"content": event.Delta.Text}},
			},
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{encoded}, nil

	case "message_delta":
		if event.Delta == nil || event.Delta.StopReason == "" {
			return nil, nil
		}
		encoded, err := json.Marshal(map[string]any{
			"id":      "anthropic-stream",
			"object":  "chat.completion.chunk",
			"model":   requestedModel,
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]any{}, "finish_reason": finishReasonFromStopReason(event.Delta.StopReason)},
			},
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{encoded}, nil

	default:
		return nil, nil
	}
}

func finishReasonFromStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "":
		return "stop"
	default:
		return "stop"
	}
}
