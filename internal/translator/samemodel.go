package translator

import (
	"encoding/json"
	"fmt"
)

// RewriteModelOnly implements spec §4.4's same-protocol rewrite: the
// upstream candidate may name a different model id than the one the client
// requested, and every other field of the request passes through
// unmodified. Operating on a raw map (rather than the typed request
// structs) keeps it agnostic to Custom-protocol bodies that carry fields
// neither the OpenAI nor Anthropic DTOs know about.
func RewriteModelOnly(body []byte, upstreamModel string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("translator: decode request for model rewrite: %w", err)
	}

	modelJSON, err := json.Marshal(upstreamModel)
	if err != nil {
		return nil, err
	}
	fields["model"] = modelJSON

	return json.Marshal(fields)
}
