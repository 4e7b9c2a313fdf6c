package models

import "encoding/json"

// OpenAIMessage is one chat message in the OpenAI chat-completions shape.
// Content is kept raw because clients sometimes send array content
// (multi-part messages); flattenContent in the translator reduces it to
// plain text.
type OpenAIMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// OpenAIRequest is the inbound/outbound OpenAI chat-completions request body.
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
}

// OpenAIUsage is the OpenAI token-accounting block.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIChoice is one element of an OpenAI response's "choices" array.
type OpenAIChoice struct {
	Index        int                  `json:"index"`
	Message      *OpenAIRespMessage   `json:"message,omitempty"`
	Delta        *OpenAIRespMessage   `json:"delta,omitempty"`
	FinishReason *string              `json:"finish_reason"`
}

// OpenAIRespMessage is the assistant message embedded in a choice.
type OpenAIRespMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// OpenAIResponse is the unary OpenAI chat-completions response.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

// OpenAIStreamChunk is one `data:` payload of an OpenAI
// chat.completion.chunk SSE stream.
type OpenAIStreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage"`
}
