package usage

import (
	"encoding/json"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// ExtractUnary reads token counts directly out of a complete, native
// (pre-translation) unary response body — the non-streaming counterpart of
// Collector. ok is false when the body doesn't decode or has an empty id; a
// body with an id but no usage block yields zero counts and ok true. On
// ok false the pipeline skips the usage report and still returns the
// translated response.
func ExtractUnary(body []byte, protocol models.Protocol) (report Report, ok bool) {
	if protocol.IsAnthropic() {
		var resp models.AnthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return Report{}, false
		}
		if resp.ID == "" {
			return Report{}, false
		}
		return Report{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}, true
	}

	var resp models.OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Report{}, false
	}
	if resp.ID == "" {
		return Report{}, false
	}
	return Report{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}, true
}
