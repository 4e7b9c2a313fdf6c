package translator

import (
	"encoding/json"
)

// OpenAIToAnthropicStream adapts an upstream OpenAI chat.completion.chunk
// SSE stream into an Anthropic-shaped one, per spec §4.4's state machine.
// It is constructed fresh for each inbound streaming request — the
// translator itself is stateless; the adapter owns the per-call state.
type OpenAIToAnthropicStream struct {
	reader frameReader

	messageStarted      bool
	contentBlockStarted bool
	messageID           string
	model               string
	pendingOutputTokens *int
	done                bool
}

// NewOpenAIToAnthropicStream constructs a fresh adapter.
func NewOpenAIToAnthropicStream() *OpenAIToAnthropicStream {
	return &OpenAIToAnthropicStream{}
}

// Transform feeds a raw chunk of upstream bytes and returns the
// Anthropic-shaped SSE bytes produced from any complete events it
// contained. An empty chunk is returned unchanged.
func (s *OpenAIToAnthropicStream) Transform(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return chunk, nil
	}
	if s.done {
		return nil, nil
	}

	var out []byte
	for _, ev := range s.reader.feed(chunk) {
		frames, err := s.handle(ev.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, frames...)
		if s.done {
			break
		}
	}
	return out, nil
}

func (s *OpenAIToAnthropicStream) handle(data string) ([]byte, error) {
	if data == "[DONE]" {
		return s.handleDone()
	}

	var chunk struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Usage *struct {
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, nil
	}

	var out []byte

	if !s.messageStarted && chunk.ID != "" && chunk.Model != "" {
		s.messageID = chunk.ID
		s.model = chunk.Model
		s.messageStarted = true
		out = append(out, writeNamedEvent("message_start", mustMarshal(map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            s.messageID,
				"type":          "message",
				"role":          "assistant",
				"model":         s.model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
			},
		}))...)
	}

	var delta string
	var roleSet bool
	if len(chunk.Choices) > 0 {
		delta = chunk.Choices[0].Delta.Content
		roleSet = chunk.Choices[0].Delta.Role != ""
	}

	if !s.contentBlockStarted && (roleSet || delta != "") {
		s.contentBlockStarted = true
		out = append(out, writeNamedEvent("content_block_start", mustMarshal(map[string]any{
			"type":  "content_block_start",
			"index": 0,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		}))...)
	}

	if delta != "" {
		out = append(out, writeNamedEvent("content_block_delta", mustMarshal(map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{
				"type": "text_delta",
				"text": delta,
			},
		}))...)
	}

	if chunk.Usage != nil {
		tokens := chunk.Usage.CompletionTokens
		s.pendingOutputTokens = &tokens
	}

	return out, nil
}

func (s *OpenAIToAnthropicStream) handleDone() ([]byte, error) {
	s.done = true
	var out []byte

	if s.contentBlockStarted {
		out = append(out, writeNamedEvent("content_block_stop", mustMarshal(map[string]any{
			"type":  "content_block_stop",
			"index": 0,
		}))...)
	}

	messageDelta := map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn"},
	}
	if s.pendingOutputTokens != nil {
		messageDelta["usage"] = map[string]any{"output_tokens": *s.pendingOutputTokens}
	}
	out = append(out, writeNamedEvent("message_delta", mustMarshal(messageDelta))...)
	out = append(out, writeNamedEvent("message_stop", mustMarshal(map[string]any{"type": "message_stop"}))...)

	return out, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
