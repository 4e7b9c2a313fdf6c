// Package detector classifies an inbound request by which wire protocol it
// speaks, so the gateway knows whether — and how — to translate it before
// forwarding.
package detector

import (
	"bytes"
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// DetectFromRequest implements spec §4.3's detect_from_request. Path takes
// priority; the Authorization/x-api-key header shape is a fallback for
// unrecognized paths, and OpenAI is the default when neither signal matches.
func DetectFromRequest(ctx *fasthttp.RequestCtx) models.Protocol {
	switch string(ctx.Path()) {
	case "/v1/chat/completions", "/v1/responses":
		return models.OpenAI
	case "/v1/messages":
		return models.Anthropic
	}

	if bytes.HasPrefix(ctx.Request.Header.Peek("Authorization"), []byte("Bearer sk-")) {
		return models.OpenAI
	}
	if len(ctx.Request.Header.Peek("x-api-key")) > 0 {
		return models.Anthropic
	}

	return models.OpenAI
}

// IsStreamRequest implements spec §4.3's is_stream_request. A body that
// fails to parse as JSON is treated as non-streaming rather than an error —
// streaming detection is advisory, not validation.
func IsStreamRequest(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream
}
