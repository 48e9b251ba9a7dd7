package reconciler

import "encoding/json"

// chatRequest is the minimal slice of the OpenAI chat-completions request
// body the pipeline needs to inspect. It is deliberately permissive: unknown
// fields are ignored, and parse failures leave every derived flag at its
// zero value rather than rejecting the request here (validation of the
// payload itself is the API handler's job).
type chatRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []chatMessage   `json:"messages"`
	Tools    json.RawMessage `json:"tools"`
	Response *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
}

func parseChatRequest(payload []byte) chatRequest {
	var req chatRequest
	_ = json.Unmarshal(payload, &req)
	return req
}

// needsVision reports whether any message's content array contains a part
// with type == "image_url".
func (r chatRequest) needsVision() bool {
	for _, m := range r.Messages {
		var parts []contentPart
		if err := json.Unmarshal(m.Content, &parts); err != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == "image_url" {
				return true
			}
		}
	}
	return false
}

func (r chatRequest) needsTools() bool {
	if len(r.Tools) == 0 {
		return false
	}
	var tools []json.RawMessage
	if err := json.Unmarshal(r.Tools, &tools); err != nil {
		return false
	}
	return len(tools) > 0
}

func (r chatRequest) needsJSONMode() bool {
	return r.Response != nil && r.Response.Type == "json_object"
}

// plainText concatenates every plain-string content field and every
// text-typed content part across all messages, for token estimation.
func (r chatRequest) plainText() string {
	var sb []byte
	for _, m := range r.Messages {
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			sb = append(sb, asString...)
			continue
		}
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			for _, p := range parts {
				sb = append(sb, p.Text...)
			}
		}
	}
	return string(sb)
}

// TokenEstimator refines the cheap char/4 floor into a model-aware token
// count when a matching tokenizer is registered.
type TokenEstimator interface {
	// Estimate returns the prompt token count for the given model and raw
	// text, or ok=false when no tokenizer matches and the caller should fall
	// back to the char/4 floor.
	Estimate(model, text string) (tokens int, ok bool)
}
