// Package translator rewrites request and response bodies between the
// OpenAI chat-completions and Anthropic messages wire shapes, and adapts
// their respective SSE streams into one another. Same-protocol pairs are a
// model-name rewrite only; mixed pairs perform a structural rewrite.
package translator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

const defaultAnthropicMaxTokens = 1024

// flattenContent reduces a message's raw "content" field — either a plain
// string or an array of {type, text} parts — to a single string.
func flattenContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var out string
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// RewriteRequestOpenAIToAnthropic implements spec §4.4's OpenAI → Anthropic
// unary request rewrite.
func RewriteRequestOpenAIToAnthropic(body []byte) ([]byte, error) {
	var req models.OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("translator: decode openai request: %w", err)
	}

	out := models.AnthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultAnthropicMaxTokens
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.System = flattenContent(m.Content)
		case "user", "assistant":
			text := flattenContent(m.Content)
			contentJSON, err := json.Marshal(text)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, models.AnthropicMessage{Role: m.Role, Content: contentJSON})
		default:
			// Unknown roles are discarded per spec.
		}
	}

	return json.Marshal(out)
}

// RewriteRequestAnthropicToOpenAI implements spec §4.4's Anthropic → OpenAI
// unary request rewrite.
func RewriteRequestAnthropicToOpenAI(body []byte) ([]byte, error) {
	var req models.AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("translator: decode anthropic request: %w", err)
	}

	out := models.OpenAIRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	if req.System != "" {
		sysJSON, err := json.Marshal(req.System)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, models.OpenAIMessage{Role: "system", Content: sysJSON})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, models.OpenAIMessage{Role: m.Role, Content: m.Content})
	}

	return json.Marshal(out)
}

// RewriteResponseOpenAIToAnthropic implements spec §4.4's OpenAI → Anthropic
// unary response rewrite.
func RewriteResponseOpenAIToAnthropic(body []byte) ([]byte, error) {
	var resp models.OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("translator: decode openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("translator: openai response has no choices")
	}

	choice := resp.Choices[0]
	text := ""
	if choice.Message != nil {
		text = choice.Message.Content
	}
	stopReason := ""
	if choice.FinishReason != nil {
		stopReason = *choice.FinishReason
	}

	out := models.AnthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    []models.AnthropicContentBlock{{Type: "text", Text: text}},
		Model:      resp.Model,
		StopReason: stopReason,
		Usage: models.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	return json.Marshal(out)
}

// RewriteResponseAnthropicToOpenAI implements spec §4.4's Anthropic →
// OpenAI unary response rewrite.
func RewriteResponseAnthropicToOpenAI(body []byte) ([]byte, error) {
	var resp models.AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("translator: decode anthropic response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	finishReason := resp.StopReason
	out := models.OpenAIResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []models.OpenAIChoice{
			{
				Index:        0,
				Message:      &models.OpenAIRespMessage{Role: "assistant", Content: text},
				FinishReason: &finishReason,
			},
		},
		Usage: models.OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	return json.Marshal(out)
}
