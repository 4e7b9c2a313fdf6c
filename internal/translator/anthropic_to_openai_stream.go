package translator

import (
	"encoding/json"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// AnthropicToOpenAIStream adapts an upstream Anthropic messages SSE stream
// into an OpenAI chat.completion.chunk-shaped one, per spec §4.4's state
// machine.
type AnthropicToOpenAIStream struct {
	reader frameReader

	messageID string
	model     string
	usage     *models.OpenAIUsage
	done      bool
}

// NewAnthropicToOpenAIStream constructs a fresh adapter with the spec's
// defaults for an id/model that never arrive (a message_start event that
// gets lost or arrives out of order should not crash downstream decoding).
func NewAnthropicToOpenAIStream() *AnthropicToOpenAIStream {
	return &AnthropicToOpenAIStream{messageID: "chatcmpl-unknown", model: "unknown"}
}

// Transform feeds a raw chunk of upstream bytes and returns the
// OpenAI-shaped SSE bytes produced from any complete events it contained.
// An empty chunk is returned unchanged.
func (s *AnthropicToOpenAIStream) Transform(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return chunk, nil
	}
	if s.done {
		return nil, nil
	}

	var out []byte
	for _, ev := range s.reader.feed(chunk) {
		frames, err := s.handle(ev)
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

func (s *AnthropicToOpenAIStream) handle(ev sseEvent) ([]byte, error) {
	var decoded models.AnthropicStreamEvent
	if ev.Data != "" {
		if err := json.Unmarshal([]byte(ev.Data), &decoded); err != nil {
			return nil, nil
		}
	}

	eventName := ev.Event
	if eventName == "" {
		eventName = decoded.Type
	}

	switch eventName {
	case "message_start":
		if decoded.Message != nil {
			s.messageID = decoded.Message.ID
			s.model = decoded.Message.Model
		}
		return writeData(mustMarshal(s.chunk(&models.OpenAIRespMessage{Role: "assistant", Content: ""}, nil, nil))), nil

	case "content_block_delta":
		if decoded.Delta == nil || decoded.Delta.Text == "" {
			return nil, nil
		}
		return writeData(mustMarshal(s.chunk(&models.OpenAIRespMessage{Content: decoded.Delta.Text}, nil, nil))), nil

	case "message_delta":
		stopReason := "stop"
		if decoded.Delta != nil && decoded.Delta.StopReason != "" {
			stopReason = decoded.Delta.StopReason
		}
		if decoded.Usage != nil {
			out := decoded.Usage.OutputTokens
			s.usage = &models.OpenAIUsage{
				PromptTokens:     0,
				CompletionTokens: out,
				TotalTokens:      out,
			}
		}
		return writeData(mustMarshal(s.chunk(&models.OpenAIRespMessage{Content: ""}, &stopReason, nil))), nil

	case "message_stop":
		s.done = true
		var out []byte
		if s.usage != nil {
			out = append(out, writeData(mustMarshal(models.OpenAIStreamChunk{
				ID:      s.messageID,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Model:   s.model,
				Choices: []models.OpenAIChoice{},
				Usage:   s.usage,
			}))...)
		}
		out = append(out, doneFrame...)
		return out, nil

	default:
		return nil, nil
	}
}

func (s *AnthropicToOpenAIStream) chunk(delta *models.OpenAIRespMessage, finishReason *string, usage *models.OpenAIUsage) models.OpenAIStreamChunk {
	return models.OpenAIStreamChunk{
		ID:      s.messageID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []models.OpenAIChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
		Usage: usage,
	}
}
