package models

// RouteConfig is one candidate upstream endpoint returned by the business
// backend. A requested (user_token, model) pair may resolve to several of
// these, tried in order until one succeeds.
type RouteConfig struct {
	Token    string   `json:"token"`
	Model    string   `json:"model"`
	Endpoint string   `json:"api_endpoint"`
	Protocol Protocol `json:"protocol"`

	ModelID         string `json:"model_id"`
	ProviderID      string `json:"provider_id"`
	ProviderTokenID string `json:"provider_token_id"`
}

// SameUpstream reports whether two configs identify the same upstream
// account for eviction purposes. Equality is deliberately narrower than full
// structural equality: the same (token, api_endpoint) pair may be returned
// under different attribution IDs across resolver refreshes.
func (c RouteConfig) SameUpstream(other RouteConfig) bool {
	return c.Token == other.Token && c.Endpoint == other.Endpoint
}

// RouteRequest is the body POSTed to the business backend's
// /v1/route/resolve.
type RouteRequest struct {
	Token string `json:"token"`
	Model string `json:"model"`
}

// RouteResponse is the business backend's /v1/route/resolve reply.
type RouteResponse struct {
	Code    int           `json:"code"`
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    []RouteConfig `json:"data"`
}
