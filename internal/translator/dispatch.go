package translator

import "github.com/nulpointcorp/inference-gateway/internal/models"

// TranslateRequest rewrites an inbound unary request body for the given
// upstream candidate. Same-protocol pairs get a model-name rewrite only;
// mixed pairs get the full structural rewrite, with the upstream's own model
// id substituted for whatever the client requested — the upstream candidate,
// not the client's wording, decides which model actually gets called.
func TranslateRequest(body []byte, clientProtocol, targetProtocol models.Protocol, upstreamModel string) ([]byte, error) {
	if clientProtocol.IsAnthropic() == targetProtocol.IsAnthropic() {
		return RewriteModelOnly(body, upstreamModel)
	}

	var (
		rewritten []byte
		err       error
	)
	if clientProtocol.IsAnthropic() {
		rewritten, err = RewriteRequestAnthropicToOpenAI(body)
	} else {
		rewritten, err = RewriteRequestOpenAIToAnthropic(body)
	}
	if err != nil {
		return nil, err
	}

	return RewriteModelOnly(rewritten, upstreamModel)
}

// TranslateResponse rewrites a unary upstream response body back into the
// client's protocol shape. Same-protocol pairs pass through unmodified.
func TranslateResponse(body []byte, clientProtocol, targetProtocol models.Protocol) ([]byte, error) {
	if clientProtocol.IsAnthropic() == targetProtocol.IsAnthropic() {
		return body, nil
	}

	if clientProtocol.IsAnthropic() {
		return RewriteResponseOpenAIToAnthropic(body)
	}
	return RewriteResponseAnthropicToOpenAI(body)
}
