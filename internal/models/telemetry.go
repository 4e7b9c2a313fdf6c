package models

// UsageEvent reports token consumption for one inbound request. RequestID is
// the idempotency key the business backend uses to collapse duplicate
// reports — the usage collector is only guaranteed to call report() once per
// successful request, but a retried telemetry POST must still be safe to
// dedupe on the backend side.
type UsageEvent struct {
	RequestID string `json:"request_id"`
	Token     string `json:"token"`
	Model     string `json:"model"`
	Endpoint  string `json:"api_endpoint"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	ModelID         string `json:"model_id"`
	ProviderID      string `json:"provider_id"`
	ProviderTokenID string `json:"provider_token_id"`
}

// ErrorEvent reports a failed upstream attempt.
type ErrorEvent struct {
	Token           string `json:"token"`
	Model           string `json:"model"`
	Endpoint        string `json:"api_endpoint"`
	Message         string `json:"message"`
	ProviderTokenID string `json:"provider_token_id,omitempty"`
}
