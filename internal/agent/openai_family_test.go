package agent

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIFamilyProbeRequestSetsAuth(t *testing.T) {
	req, err := openAIFamilyAdapter{}.ProbeRequest(context.Background(), "a1", "http://host:8000/", "secret")
	require.NoError(t, err)
	require.Equal(t, "http://host:8000/v1/models", req.URL.String())
	require.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestOpenAIFamilyProbeRequestNoKeyOmitsAuth(t *testing.T) {
	req, err := openAIFamilyAdapter{}.ProbeRequest(context.Background(), "a1", "http://host", "")
	require.NoError(t, err)
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestOpenAIFamilyParseModels(t *testing.T) {
	body := []byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-3.5-turbo"}]}`)
	models, err := openAIFamilyAdapter{}.ParseModels("a1", body)
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "gpt-4o", models[0].ID)
}

func TestOpenAIFamilyBuildChatRequestRewritesModelField(t *testing.T) {
	raw := []byte(`{"model":"requested-alias","messages":[{"role":"user","content":"hi"}],"temperature":0.5}`)
	req, err := openAIFamilyAdapter{}.BuildChatRequest(context.Background(), "http://host", "key", "actual-model", raw, false)
	require.NoError(t, err)
	require.Equal(t, "http://host/v1/chat/completions", req.URL.String())
	require.Equal(t, "Bearer key", req.Header.Get("Authorization"))

	body, _ := io.ReadAll(req.Body)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "actual-model", decoded["model"])
	require.Equal(t, 0.5, decoded["temperature"])
}

func TestOpenAIFamilyTranslateResponseBodyPassthrough(t *testing.T) {
	body := []byte(`{"id":"x","object":"chat.completion"}`)
	out, err := openAIFamilyAdapter{}.TranslateResponseBody(body, "m")
	require.NoError(t, err)
	require.Equal(t, body, out)
}

func TestOpenAIFamilyTranslateStreamChunkPassthrough(t *testing.T) {
	chunk := []byte(`{"choices":[{"delta":{"content":"x"}}]}`)
	out, err := openAIFamilyAdapter{}.TranslateStreamChunk(chunk, "m")
	require.NoError(t, err)
	require.Equal(t, [][]byte{chunk}, out)
}
