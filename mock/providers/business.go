package main

import (
	"encoding/json"
	"net/http"
	"sync"
)

// routeConfig mirrors internal/models.RouteConfig's wire shape so this mock
// can hand candidates straight to a gateway resolver without importing the
// gateway module.
type routeConfig struct {
	Token           string `json:"token"`
	Model           string `json:"model"`
	APIEndpoint     string `json:"api_endpoint"`
	Protocol        string `json:"protocol"`
	ModelID         string `json:"model_id"`
	ProviderID      string `json:"provider_id"`
	ProviderTokenID string `json:"provider_token_id"`
}

// newBusinessHandler simulates the business backend the gateway resolves
// routes against and reports telemetry to: POST /v1/route/resolve,
// POST /v1/telemetry/errors, POST /v1/telemetry/usage. Routes point at
// openAIEndpoint and anthropicEndpoint, which main builds from the mock
// openai/anthropic servers' ports on 127.0.0.1, one candidate per
// configured protocol for every requested model.
func newBusinessHandler(cfg Config, openAIEndpoint, anthropicEndpoint string) http.Handler {
	var (
		mu     sync.Mutex
		usageN int
		errorN int
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/v1/route/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)

		var req struct {
			Token string `json:"token"`
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
			return
		}
		if req.Model == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"code": 200, "success": true, "message": "no route", "data": []routeConfig{},
			})
			return
		}

		data := []routeConfig{
			{
				Token: "mock-openai-token", Model: req.Model, APIEndpoint: openAIEndpoint,
				Protocol: "openai", ModelID: "model-openai-1", ProviderID: "provider-openai",
				ProviderTokenID: "token-openai-1",
			},
			{
				Token: "mock-anthropic-token", Model: req.Model, APIEndpoint: anthropicEndpoint,
				Protocol: "anthropic", ModelID: "model-anthropic-1", ProviderID: "provider-anthropic",
				ProviderTokenID: "token-anthropic-1",
			},
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"code": 200, "success": true, "message": "ok", "data": data,
		})
	})

	mux.HandleFunc("/v1/telemetry/usage", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		usageN++
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/v1/telemetry/errors", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		errorN++
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}
