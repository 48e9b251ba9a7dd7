package agent

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnthropicProbeRequestHeaders(t *testing.T) {
	req, err := anthropicAdapter{}.ProbeRequest(context.Background(), "a1", "http://host", "key")
	require.NoError(t, err)
	require.Equal(t, "key", req.Header.Get("x-api-key"))
	require.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
}

func TestAnthropicParseModels(t *testing.T) {
	body := []byte(`{"data":[{"id":"claude-3-5-sonnet-20241022"}]}`)
	models, err := anthropicAdapter{}.ParseModels("a1", body)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "claude-3-5-sonnet-20241022", models[0].ID)
	require.Equal(t, uint32(200000), models[0].ContextWindow)
}

func TestAnthropicBuildChatRequestExtractsSystemMessage(t *testing.T) {
	raw := []byte(`{"messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}],"max_tokens":256}`)
	req, err := anthropicAdapter{}.BuildChatRequest(context.Background(), "http://host", "key", "claude-3-5-sonnet", raw, false)
	require.NoError(t, err)
	require.Equal(t, "http://host/v1/messages", req.URL.String())
	require.Equal(t, "key", req.Header.Get("x-api-key"))

	body, _ := io.ReadAll(req.Body)
	var decoded claudeRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "be terse", decoded.System)
	require.Len(t, decoded.Messages, 1)
	require.Equal(t, "user", decoded.Messages[0].Role)
	require.Equal(t, "claude-3-5-sonnet", decoded.Model)
	require.Equal(t, 256, decoded.MaxTokens)
}

func TestAnthropicBuildChatRequestDefaultsMaxTokens(t *testing.T) {
	raw := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	req, err := anthropicAdapter{}.BuildChatRequest(context.Background(), "http://host", "key", "claude-3-5-sonnet", raw, false)
	require.NoError(t, err)

	body, _ := io.ReadAll(req.Body)
	var decoded claudeRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, defaultClaudeMaxTokens, decoded.MaxTokens)
}

func TestAnthropicTranslateResponseBodyFlattensTextAndToolUse(t *testing.T) {
	src := []byte(`{
		"id": "msg_1",
		"content": [
			{"type": "text", "text": "the weather is "},
			{"type": "tool_use", "id": "tu_1", "name": "get_weather", "input": {"city":"nyc"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	out, err := anthropicAdapter{}.TranslateResponseBody(src, "claude-3-5-sonnet")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	choices := decoded["choices"].([]any)
	choice := choices[0].(map[string]any)
	require.Equal(t, "tool_calls", choice["finish_reason"])
	message := choice["message"].(map[string]any)
	require.Equal(t, "the weather is ", message["content"])
	require.NotEmpty(t, message["tool_calls"])
}

func TestAnthropicTranslateStreamChunkContentBlockDelta(t *testing.T) {
	chunk := []byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hello"}}`)
	out, err := anthropicAdapter{}.TranslateStreamChunk(chunk, "claude-3-5-sonnet")
	require.NoError(t, err)
	require.Len(t, out, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out[0], &decoded))
	choices := decoded["choices"].([]any)
	choice := choices[0].(map[string]any)
	delta := choice["delta"].(map[string]any)
	require.Equal(t, "hello", delta["content"])
}

func TestAnthropicTranslateStreamChunkIgnoresNonDeltaTypes(t *testing.T) {
	for _, typ := range []string{"message_start", "content_block_start", "ping", "content_block_stop"} {
		out, err := anthropicAdapter{}.TranslateStreamChunk([]byte(`{"type":"`+typ+`"}`), "m")
		require.NoError(t, err)
		require.Nil(t, out)
	}
}

func TestAnthropicTranslateStreamChunkMessageDeltaCarriesStopReason(t *testing.T) {
	chunk := []byte(`{"type":"message_delta","delta":{"stop_reason":"max_tokens"}}`)
	out, err := anthropicAdapter{}.TranslateStreamChunk(chunk, "m")
	require.NoError(t, err)
	require.Len(t, out, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out[0], &decoded))
	choices := decoded["choices"].([]any)
	choice := choices[0].(map[string]any)
	require.Equal(t, "length", choice["finish_reason"])
}

func TestFinishReasonFromStopReason(t *testing.T) {
	require.Equal(t, "length", finishReasonFromStopReason("max_tokens"))
	require.Equal(t, "tool_calls", finishReasonFromStopReason("tool_use"))
	require.Equal(t, "stop", finishReasonFromStopReason(""))
	require.Equal(t, "stop", finishReasonFromStopReason("end_turn"))
}
